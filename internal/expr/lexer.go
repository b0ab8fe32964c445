// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package expr

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Parser parses statements, conditions and custom select expressions.
type Parser struct {
	input string
	pos   int
	// nextPos is start of the next char.
	nextPos int
	// char is the rune starting at pos. char is set to 0 when pos reaches the
	// end of input.
	char rune
	// lineNum is the number of the current line of the input.
	lineNum int
	// lineStart is the position of the first char of the current line in the
	// input.
	lineStart int
	// custom is set when parsing a custom select expression. Host variables
	// must then be named arg0, arg1 and so on.
	custom bool
}

// NewParser returns a parser for ordinary statements.
func NewParser() *Parser {
	return &Parser{}
}

// init resets the state of the parser and sets the input string.
func (p *Parser) init(input string) {
	p.input = input
	p.pos = 0
	p.nextPos = 0
	p.char = 0
	p.lineNum = 1
	p.lineStart = 0
	p.advanceChar()
}

// colNum calculates the current column number taking into account line breaks.
func (p *Parser) colNum() int {
	return p.pos - p.lineStart + 1
}

// atEnd reports whether the whole input has been consumed.
func (p *Parser) atEnd() bool {
	return p.pos >= len(p.input)
}

// advanceChar moves the parser to the next character in the input. It also
// takes care of updating the line and column numbers if it encounters line
// breaks.
func (p *Parser) advanceChar() bool {
	if p.nextPos >= len(p.input) {
		p.char = 0
		p.pos = p.nextPos
		return false
	}
	if p.char == '\n' {
		p.lineStart = p.nextPos
		p.lineNum++
	}
	var size int
	p.char, size = utf8.DecodeRuneInString(p.input[p.nextPos:])
	p.pos = p.nextPos
	p.nextPos += size
	return true
}

// errorAt wraps an error with line and column information.
func errorAt(err error, line int, column int, input string) error {
	if strings.ContainsRune(input, '\n') {
		return fmt.Errorf("line %d, column %d: %w", line, column, err)
	}
	return fmt.Errorf("column %d: %w", column, err)
}

// errorf returns an error located at the current parser position.
func (p *Parser) errorf(format string, args ...any) error {
	return errorAt(fmt.Errorf(format, args...), p.lineNum, p.colNum(), p.input)
}

// A checkpoint struct for saving parser state to restore later.
type checkpoint struct {
	parser    *Parser
	pos       int
	nextPos   int
	char      rune
	lineNum   int
	lineStart int
}

// save takes a snapshot of the state of the parser and returns a pointer to a
// checkpoint that represents it.
func (p *Parser) save() *checkpoint {
	return &checkpoint{
		parser:    p,
		pos:       p.pos,
		nextPos:   p.nextPos,
		char:      p.char,
		lineNum:   p.lineNum,
		lineStart: p.lineStart,
	}
}

// restore sets the internal state of the parser to the values stored in the
// checkpoint.
func (cp *checkpoint) restore() {
	cp.parser.pos = cp.pos
	cp.parser.nextPos = cp.nextPos
	cp.parser.char = cp.char
	cp.parser.lineNum = cp.lineNum
	cp.parser.lineStart = cp.lineStart
}

// errorf returns an error located at the checkpoint.
func (cp *checkpoint) errorf(format string, args ...any) error {
	return errorAt(fmt.Errorf(format, args...), cp.lineNum, cp.pos-cp.lineStart+1, cp.parser.input)
}

// skipComment jumps over comments as defined by the SQLite spec. If no comment
// is found the parser state is left unchanged.
func (p *Parser) skipComment() bool {
	cp := p.save()
	c := p.char
	if p.skipChar('-') || p.skipChar('/') {
		if (c == '-' && p.skipChar('-')) || (c == '/' && p.skipChar('*')) {
			var end rune
			if c == '-' {
				end = '\n'
			} else {
				end = '*'
			}
			for p.pos < len(p.input) {
				if p.char == end {
					// if end == '\n' (i.e. its a -- comment) dont consume the newline.
					if end == '*' {
						p.advanceChar()
						if !p.skipChar('/') {
							continue
						}
					}
					return true
				}
				p.advanceChar()
			}
			// Reached end of input (valid comment end).
			return true
		}
		cp.restore()
		return false
	}
	return false
}

// peekChar returns true if the current char equals the one passed as parameter.
func (p *Parser) peekChar(c rune) bool {
	return p.pos < len(p.input) && p.char == c
}

// skipChar jumps over the current char if it matches the char passed as a
// parameter. Returns true in that case, false otherwise.
func (p *Parser) skipChar(c rune) bool {
	if p.pos < len(p.input) && p.char == c {
		p.advanceChar()
		return true
	}
	return false
}

// skipBlanks advances the parser past spaces, tabs, newlines and comments.
// Returns whether the parser position was changed.
func (p *Parser) skipBlanks() bool {
	mark := p.pos
	for p.pos < len(p.input) {
		if ok := p.skipComment(); ok {
			continue
		}
		switch p.char {
		case ' ', '\t', '\r', '\n':
			p.advanceChar()
		default:
			return p.pos != mark
		}
	}
	return p.pos != mark
}

// skipString advances the parser and jumps over the string passed as parameter.
// In that case returns true, false otherwise.
// This function is case insensitive.
func (p *Parser) skipString(s string) bool {
	if p.pos+len(s) > len(p.input) || !strings.EqualFold(p.input[p.pos:p.pos+len(s)], s) {
		return false
	}
	cp := p.save()
	end := p.pos + len(s)
	for p.pos < end {
		p.advanceChar()
	}
	// EqualFold may match a multi-byte rune against a single byte one.
	if p.pos != end {
		cp.restore()
		return false
	}
	return true
}

// skipKeyword jumps over a keyword. Unlike skipString the keyword must not be
// followed by a name char, so "ORDER" does not match the start of "ORDERS".
func (p *Parser) skipKeyword(kw string) bool {
	cp := p.save()
	if !p.skipString(kw) {
		return false
	}
	if p.pos < len(p.input) && isNameChar(p.char) {
		cp.restore()
		return false
	}
	return true
}

// peekKeyword reports whether the input continues with a keyword without
// moving the parser.
func (p *Parser) peekKeyword(kw string) bool {
	cp := p.save()
	defer cp.restore()
	return p.skipKeyword(kw)
}

// skipKeywords jumps over a sequence of keywords separated by blanks, such as
// "ORDER BY". The parser is left unchanged unless all of them match.
func (p *Parser) skipKeywords(kws ...string) bool {
	cp := p.save()
	for i, kw := range kws {
		if i > 0 {
			p.skipBlanks()
		}
		if !p.skipKeyword(kw) {
			cp.restore()
			return false
		}
	}
	return true
}

// skipQuoted jumps over a section of input enclosed in the quote char q and
// returns its content with doubled quotes unescaped.
func (p *Parser) skipQuoted(q rune) (string, bool, error) {
	cp := p.save()
	if !p.skipChar(q) {
		return "", false, nil
	}
	var sb strings.Builder
	for p.pos < len(p.input) {
		if p.skipChar(q) {
			// A doubled quote is an escaped quote.
			if p.skipChar(q) {
				sb.WriteRune(q)
				continue
			}
			return sb.String(), true, nil
		}
		sb.WriteRune(p.char)
		p.advanceChar()
	}
	err := cp.errorf("missing closing quote in %s", quotedKind(q))
	cp.restore()
	return "", false, err
}

func quotedKind(q rune) string {
	if q == '\'' {
		return "string literal"
	}
	return "quoted identifier"
}

// isNameChar returns true if the given char can be part of a name. It returns
// false otherwise.
func isNameChar(c rune) bool {
	return unicode.IsLetter(c) || unicode.IsDigit(c) || c == '_'
}

// isInitialNameChar returns true if the given char can appear at the start of a
// name. It returns false otherwise.
func isInitialNameChar(c rune) bool {
	return unicode.IsLetter(c) || c == '_'
}

// parseName parses a name starting with a letter or underscore and followed
// by letters, digits and underscores.
func (p *Parser) parseName() (string, bool) {
	mark := p.pos
	if p.pos < len(p.input) && isInitialNameChar(p.char) {
		p.advanceChar()
		for p.pos < len(p.input) && isNameChar(p.char) {
			p.advanceChar()
		}
	}
	if p.pos > mark {
		return p.input[mark:p.pos], true
	}
	return "", false
}

// parseIdentifier parses a plain or double quoted identifier. The boolean
// quoted result reports whether the identifier was quoted; quoted identifiers
// are never keywords.
func (p *Parser) parseIdentifier() (name string, quoted bool, ok bool, err error) {
	if name, ok, err := p.skipQuoted('"'); err != nil {
		return "", false, false, err
	} else if ok {
		if name == "" {
			return "", false, false, p.errorf("empty quoted identifier")
		}
		return name, true, true, nil
	}
	name, ok = p.parseName()
	return name, false, ok, nil
}
