// Package pointcut parses and evaluates pointcut patterns against call-site metadata.
//
// A pattern selects call sites by their dotted path, argument types, return type,
// annotations or a boolean condition:
//
//	* xyz.demo.App.*(..)                   any method of xyz.demo.App
//	xyz..*Service.find*(string, ..)        any find* method of a *Service type below xyz
//	within(xyz.demo.*)                     any method of a type directly in xyz.demo
//	@annotation(RequireName)               call sites carrying the RequireName marker
//	if(len(args.name) == 0)                boolean expression over the call site
//
// Path segments are exact names, '*' (exactly one segment), '..' (zero or more
// segments) or globs such as 'find*'. Argument lists accept exact declared types,
// '*' for one argument and '..' for any remaining ones. Matching is case-sensitive
// and purely syntactic.
//
// Terms combine with &&, || and !, and may be grouped with parentheses. A Set
// stores named pointcuts that other patterns reference as name().
package pointcut
