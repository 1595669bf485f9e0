//go:build windows

package hostmem

func MapExecAnon(size int) (*Region, error)            { return nil, ErrUnsupported }
func MapFileRO(path string) (*Region, error)            { return nil, ErrUnsupported }
func MapFileCOW(path string) (*Region, error)           { return nil, ErrUnsupported }
func MapFileCreate(path string, size int64) (*Region, error) { return nil, ErrUnsupported }
func Unmap(r *Region) error                             { return nil }
