package guard

// Owner marks the reference responsible for releasing the resource it refers
// to. It is a transparent alias: an Owner[T] is a T in every context, with no
// extra storage and no behavior, so annotating a signature never changes how
// callers compile or run.
//
// The annotation is for readers and static tooling. A function returning
// Owner[*os.File] is announcing that the caller must close the file; a
// function taking a plain *os.File promises it will not. Nothing here tracks
// the handoff at runtime; pairing an Owner with its release remains the
// program's responsibility.
//
// Example:
//
//	func openSpool(dir string) (guard.Owner[*os.File], error) {
//	    return os.CreateTemp(dir, "spool-*")
//	}
type Owner[T any] = T
