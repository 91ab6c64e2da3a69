//go:build windows

package scanner

import (
	"fmt"
	"io/fs"

	"golang.org/x/sys/windows"
)

// fileID returns "vol=<serial>,file=<index>" from the file's handle
// information.
func fileID(path string, _ fs.FileInfo) string {
	p, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return ""
	}
	handle, err := windows.CreateFile(
		p,
		windows.FILE_READ_ATTRIBUTES,
		windows.FILE_SHARE_READ|windows.FILE_SHARE_WRITE|windows.FILE_SHARE_DELETE,
		nil,
		windows.OPEN_EXISTING,
		windows.FILE_ATTRIBUTE_NORMAL,
		0,
	)
	if err != nil {
		return ""
	}
	defer windows.CloseHandle(handle)

	var data windows.ByHandleFileInformation
	if err := windows.GetFileInformationByHandle(handle, &data); err != nil {
		return ""
	}
	index := uint64(data.FileIndexHigh)<<32 | uint64(data.FileIndexLow)
	return fmt.Sprintf("vol=%d,file=%d", data.VolumeSerialNumber, index)
}
