package main

import "os"

func writeString(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o600)
}
