//go:build llama

package backend

// cgo link directives for the in-process gguf adapter. The $ORIGIN rpath lets
// the runtime loader find libllama.so next to the built binary, and the -L
// path covers link time when building the 'llama' variant.
/*
#cgo LDFLAGS: -Wl,-rpath,'$ORIGIN' -L${SRCDIR}/../../bin -lllama
*/
import "C"
