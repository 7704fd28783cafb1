//go:build !windows
// +build !windows

package odbc

import (
	"errors"
	"unsafe"

	"github.com/ebitengine/purego"
)

// Load a dynamic library on Unix systems using purego
func loadDynamicLibrary(path string) (unsafe.Pointer, error) {
	handle, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
	if err != nil {
		return nil, err
	}
	return unsafe.Pointer(handle), nil
}

// Close the library
func closeLibrary(handle unsafe.Pointer) {
	if handle != nil {
		purego.Dlclose(uintptr(handle))
	}
}

// Get a symbol from the library
func getSymbol(handle unsafe.Pointer, name string) (unsafe.Pointer, error) {
	if handle == nil {
		return nil, errors.New("invalid library handle")
	}

	sym, err := purego.Dlsym(uintptr(handle), name)
	if err != nil {
		return nil, err
	}

	return unsafe.Pointer(sym), nil
}

// syscallN invokes a resolved ODBC entry point. The low 16 bits of the return
// register carry the SQLRETURN.
func syscallN(fn unsafe.Pointer, args ...uintptr) SQLRETURN {
	r, _, _ := purego.SyscallN(uintptr(fn), args...)
	return SQLRETURN(int16(r))
}
