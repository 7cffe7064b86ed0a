// Package condition compiles the condition expressions of controller
// override nodes into predicates.
//
// An expression is a Lua expression evaluated with a restricted set of
// libraries (base, string, math, table) plus a few helpers bound to the
// state store and the clock:
//
//	state(id)          current value of an entity, or nil
//	attr(id, key)      one attribute of an entity, or nil
//	is_state(id, v)    state(id) == v
//	hour(), minute()   local wall clock
//	weekday()          0 = Sunday ... 6 = Saturday
//
// Example:
//
//	condition: hour() >= 23 or is_state("input.cinema_mode", "on")
//
// A single Lua state is shared by every compiled expression and guarded by
// a mutex, so evaluation is serialised across controllers. A runtime error
// is logged and the expression evaluates to false.
package condition
