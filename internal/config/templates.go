package config

import (
	"fmt"
	"os"
	"strings"
)

const (
	KindServer = "server"
	KindClient = "client"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case KindServer:
		return serverTemplate, nil
	case KindClient:
		return clientTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

// Validate loads path as kind and reports the first problem.
func Validate(path, kind string) error {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case KindServer:
		_, err := LoadServerFile(path)
		return err
	case KindClient:
		_, err := LoadClientFile(path)
		return err
	default:
		return fmt.Errorf("unknown config kind: %s", kind)
	}
}

const serverTemplate = `listen = ":9400"
max_connections = 1024
read_timeout = "0s"
write_timeout = "15s"
max_frame_bytes = 8388608
# relay | echo | sink
mode = "relay"

[admin]
enabled = true
addr = "127.0.0.1:9401"
cors_origins = ["http://localhost:3000"]

[log]
level = "info"
timestamp = true
no_color = false
`

const clientTemplate = `address = "127.0.0.1:9400"
name = "knetctl"
connect_timeout = "5s"
read_timeout = "0s"
write_timeout = "15s"
max_connect_attempts = 3
max_frame_bytes = 8388608

[backoff]
initial_delay = "250ms"
multiplier = 2.0
max_delay = "5s"
jitter = true

[log]
level = "info"
`
