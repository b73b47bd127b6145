package worker

import "os"

func openPartFile(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
}

func removePartFile(path string) {
	os.Remove(path)
}
