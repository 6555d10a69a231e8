//go:build windows

// pkg/utils/flags_windows.go - command-line handling specific to Windows.

package utils

import (
	"os"
	"unsafe"

	"golang.org/x/sys/windows"
)

// PatchWindowsArgs re-parses the raw Windows command line with
// CommandLineToArgvW so that os.Args keeps quoted root paths containing spaces
// intact. Call it before any flag parsing.
func PatchWindowsArgs() {
	cmdLinePtr := windows.GetCommandLine()
	if cmdLinePtr == nil {
		return
	}
	var argc int32
	argvPtr, err := windows.CommandLineToArgv(cmdLinePtr, &argc)
	if err != nil || argvPtr == nil || argc < 1 {
		return
	}
	defer windows.LocalFree(windows.Handle(uintptr(unsafe.Pointer(argvPtr))))

	argv := unsafe.Slice((**uint16)(unsafe.Pointer(argvPtr)), argc)
	args := make([]string, 0, argc)
	for _, p := range argv {
		if p != nil {
			args = append(args, windows.UTF16PtrToString(p))
		}
	}
	os.Args = args
}
