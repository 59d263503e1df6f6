// Package queryir provides the filter predicate IR applied to bulk selects.
//
// A bulk select first joins the destination table against the staging
// table. A caller-supplied filter can then narrow the joined rows further.
// This package is the abstract form of that narrowing predicate:
//
//	[caller predicate] → [queryir] → [querysql compiler] → SQL fragment + params
//
// SEALED INTERFACES:
//
// Predicate is a sealed interface using the marker method pattern. Only
// types in this package can implement it, which keeps the compiler's type
// switch exhaustive.
//
// Example:
//
//	And{Predicates: []Predicate{
//	    Compare{Property: "Gender", Op: OpEq, Value: "Jackdaw"},
//	    Null{Property: "FatherID", Negate: true},
//	}}
//
// compiles (SQLite) to:
//
//	(d."Gender" = ? AND d."FatherId" IS NOT NULL)   params: ["Jackdaw"]
//
// VALUES ARE NEVER INTERPOLATED:
//
// Only identifiers resolved from entity mappings reach the SQL text. Every
// literal is a bound parameter.
package queryir
