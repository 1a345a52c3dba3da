package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	yaml "gopkg.in/yaml.v3"
)

func TestSecretString_Marshal(t *testing.T) {
	tests := []struct {
		name     string
		input    SecretString
		wantJSON string
		wantYAML any
		wantStr  string
	}{
		{name: "empty", input: "", wantJSON: "null", wantYAML: nil, wantStr: ""},
		{name: "short", input: "x", wantJSON: `"` + SecretStringValue + `"`, wantYAML: SecretStringValue, wantStr: SecretStringValue},
		{name: "service key", input: `{"type":"service_account","private_key":"-----BEGIN"}`, wantJSON: `"` + SecretStringValue + `"`, wantYAML: SecretStringValue, wantStr: SecretStringValue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.input.MarshalJSON()
			if err != nil {
				t.Fatalf("MarshalJSON() error = %v", err)
			}
			if string(got) != tt.wantJSON {
				t.Errorf("MarshalJSON() = %s, want %s", got, tt.wantJSON)
			}

			y, err := tt.input.MarshalYAML()
			if err != nil {
				t.Fatalf("MarshalYAML() error = %v", err)
			}
			if y != tt.wantYAML {
				t.Errorf("MarshalYAML() = %v, want %v", y, tt.wantYAML)
			}

			if s := fmt.Sprint(tt.input); s != tt.wantStr {
				t.Errorf("Sprint() = %q, want %q", s, tt.wantStr)
			}
			if tt.input.Reveal() != string(tt.input) {
				t.Errorf("Reveal() = %q, want %q", tt.input.Reveal(), string(tt.input))
			}
		})
	}
}

func TestSecretString_RemoteConfigDump(t *testing.T) {
	cfg := Config{
		Remote: RemoteConfig{
			CredentialsJSON: "super-secret-key-12345",
			SharedDriveID:   "drive-1",
		},
	}

	data, err := Dump(&cfg)
	if err != nil {
		t.Fatalf("Dump() error = %v", err)
	}
	if strings.Contains(string(data), "super-secret") {
		t.Error("secret leaked in YAML dump")
	}
	if !strings.Contains(string(data), "credentials_json: "+SecretStringValue) {
		t.Errorf("masked value not found in dump:\n%s", data)
	}

	jdata, err := json.Marshal(cfg.Remote)
	if err != nil {
		t.Fatalf("json.Marshal() error = %v", err)
	}
	if strings.Contains(string(jdata), "super-secret") {
		t.Error("secret leaked in JSON")
	}

	var back struct {
		Remote struct {
			CredentialsJSON string `yaml:"credentials_json"`
		} `yaml:"remote"`
	}
	if err := yaml.Unmarshal(data, &back); err != nil {
		t.Fatalf("yaml.Unmarshal() error = %v", err)
	}
	if back.Remote.CredentialsJSON != SecretStringValue {
		t.Errorf("credentials_json = %q, want %q", back.Remote.CredentialsJSON, SecretStringValue)
	}
}
