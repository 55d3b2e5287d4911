/*
Package types defines the core data structures shared by the Docker
containerizer: the Container record, its identifiers, and the result
types (ExitStatus, Termination) that flow out of the lifecycle engine in
pkg/containerizer.

# Ownership

A Container is created by launch() (pkg/containerizer) or reattached by
recover() (pkg/recoverer), owned exclusively by the registry
(pkg/registry), and mutated only from within the lifecycle engine's
serial execution context. Nothing outside that context writes to a
Container's State field.

# Completion signalling

Status and Termination are modelled as single-assignment channels rather
than plain fields: SetStatus/SetTermination return false on a second
call, and StatusCh/TerminationCh hand callers a receive-only channel they
can select on alongside a context's Done channel. This mirrors the
promise-of-exit-status and promise-of-termination described for the
lifecycle engine — fulfilled at most once, observable without holding a
reference to the engine itself.
*/
package types
