package model

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "daos.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDAOsList(t *testing.T) {
	path := writeConfig(t, `[
		{
			"name": "Compound",
			"description": "Compound governance",
			"chainId": 1,
			"contracts": [
				{"address": "0xC0Da02939E1441F497FD74F78cE7Decb17B66529", "type": "governor", "name": "GovernorBravo", "deployedAt": 12006099}
			]
		}
	]`)

	daos, err := LoadDAOs(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(daos) != 1 || len(daos[0].Contracts) != 1 {
		t.Fatalf("unexpected shape: %+v", daos)
	}

	c := daos[0].Contracts[0]
	if c.Address != "0xc0da02939e1441f497fd74f78ce7decb17b66529" {
		t.Fatalf("address not canonicalized: %s", c.Address)
	}
	if c.DeployedAt != 12006099 {
		t.Fatalf("deployedAt mismatch: %d", c.DeployedAt)
	}
}

func TestLoadDAOsSingleObject(t *testing.T) {
	path := writeConfig(t, `{
		"name": "ENS",
		"description": "ENS DAO",
		"chainId": 1,
		"contracts": [
			{"address": "0x323a76393544d5ecca80cd6ef2a560c6a395b7e3", "type": "governor", "name": "Governor"}
		]
	}`)

	daos, err := LoadDAOs(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(daos) != 1 || daos[0].Name != "ENS" {
		t.Fatalf("unexpected daos: %+v", daos)
	}
}

func TestLoadDAOsValidation(t *testing.T) {
	cases := map[string]string{
		"bad address":  `[{"name":"X","chainId":1,"contracts":[{"address":"nothex","type":"token","name":"T"}]}]`,
		"bad type":     `[{"name":"X","chainId":1,"contracts":[{"address":"0x323a76393544d5ecca80cd6ef2a560c6a395b7e3","type":"oracle","name":"T"}]}]`,
		"no chain id":  `[{"name":"X","contracts":[{"address":"0x323a76393544d5ecca80cd6ef2a560c6a395b7e3","type":"token","name":"T"}]}]`,
		"no contracts": `[{"name":"X","chainId":1,"contracts":[]}]`,
		"no name":      `[{"chainId":1,"contracts":[{"address":"0x323a76393544d5ecca80cd6ef2a560c6a395b7e3","type":"token","name":"T"}]}]`,
	}
	for name, content := range cases {
		path := writeConfig(t, content)
		if _, err := LoadDAOs(path); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestEventRecordOrdering(t *testing.T) {
	a := EventRecord{BlockNumber: 100, LogIndex: 2}
	b := EventRecord{BlockNumber: 100, LogIndex: 3}
	c := EventRecord{BlockNumber: 101, LogIndex: 0}

	if !a.Less(b) || !b.Less(c) || c.Less(a) {
		t.Fatalf("ordering violated")
	}
}
