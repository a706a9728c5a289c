//go:build windows

package services

func detectProvider(func(string) (string, error)) Provider {
	return &SCProvider{run: execRunner}
}
