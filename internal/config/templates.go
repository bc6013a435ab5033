package config

import (
	"os"

	"github.com/pkg/errors"
)

// Template is a commented config.toml with every supported key.
func Template() string {
	return clientTemplate
}

func WriteTemplate(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return errors.Errorf("config: already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(clientTemplate), 0o600)
}

const clientTemplate = `# broker endpoint
host = "localhost"
port = "8080"
path = "/gs-guide-websocket"

# empty credentials are sent as "None"
login = ""
passcode = ""

# compat matches the reference broker; strict follows STOMP 1.1 content-length
codec = "compat"

connect_timeout = "30s"
handshake_timeout = "10s"
write_timeout = "10s"
close_timeout = "5s"
max_frame_bytes = 1048576
user_agent = "stompws-client"
subprotocols = []

session_security_mode = "development"
session_tls_enabled = false
session_tls_mutual = false
session_tls_insecure_skip_verify = false
session_tls_cert_file = ""
session_tls_key_file = ""
session_tls_ca_file = ""
session_tls_server_name = ""
`
