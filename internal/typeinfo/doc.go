// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

/*
Package typeinfo contains code relating to Go types and their processing in
sqlgen. As much as possible, reflection code is limited to this package. It
contains the logic for locating host variables in the input arguments passed
to a statement, and for scanning result rows into structs and maps.
*/
package typeinfo
