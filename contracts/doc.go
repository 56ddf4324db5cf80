// Package contracts provides the data shared by the pointcut matcher, the advice runtime
// and its transports.
//
// A CallSite describes one invocation: the dotted namespace, type and method path,
// the declared argument types with their values, the declared return type and any
// annotation markers. Pointcuts match against this metadata only.
//
// An InvocationEvent is the serializable record of a finished invocation that audit
// transports publish.
package contracts
