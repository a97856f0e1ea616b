// Package fuzztests houses Go fuzz harnesses for the scenario front end and
// the kernel behind it. Arbitrary bytes are decoded as scenario files; every
// scenario that validates is then run on a fresh kernel, which must halt with
// a result instead of panicking or hanging.
package fuzztests
