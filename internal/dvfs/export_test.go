package dvfs

// SetFatalFunc replaces the invariant violation handler and returns a function restoring it.
func SetFatalFunc(f func(error)) func() {
	prev := fatalFunc
	fatalFunc = f
	return func() { fatalFunc = prev }
}
