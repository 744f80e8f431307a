package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"github.com/thrillee/aegisbulk/internal/auth"
	"github.com/thrillee/aegisbulk/internal/contact"
)

func newTestCmd(stdin string) (*cobra.Command, *bytes.Buffer) {
	cmd := &cobra.Command{}
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader(stdin))
	return cmd, &out
}

func TestNormalizeCmd(t *testing.T) {
	region = "UG"
	cmd, out := newTestCmd("0772000111\n\n00256752333444\n")

	if err := runNormalize(cmd, []string{"0701234567", "12"}); err != nil {
		t.Fatalf("runNormalize failed: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 || lines[0] != "+256701234567" || !strings.HasPrefix(lines[1], "REJECT 12:") {
		t.Fatalf("unexpected output: %q", out.String())
	}

	cmd, out = newTestCmd("0772000111\n\n00256752333444\n")
	if err := runNormalize(cmd, nil); err != nil {
		t.Fatalf("runNormalize from stdin failed: %v", err)
	}
	if got := strings.TrimSpace(out.String()); got != "+256772000111\n+256752333444" {
		t.Fatalf("unexpected stdin output: %q", got)
	}
}

func TestNormalizeCmd_BadRegion(t *testing.T) {
	region = "XX"
	defer func() { region = "UG" }()
	cmd, _ := newTestCmd("")
	if err := runNormalize(cmd, []string{"0701234567"}); err == nil {
		t.Fatal("expected an error for an unknown region")
	}
}

func TestHashKeyCmd(t *testing.T) {
	var out bytes.Buffer
	hashKeyCmd.SetOut(&out)
	defer hashKeyCmd.SetOut(nil)

	if err := hashKeyCmd.RunE(hashKeyCmd, []string{"s3cret"}); err != nil {
		t.Fatalf("hash-key failed: %v", err)
	}
	hash := strings.TrimSpace(out.String())
	if !auth.CheckAPIKey("s3cret", hash) {
		t.Fatalf("printed hash does not verify: %q", hash)
	}
}

func TestLoadContacts(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "list.csv")
	if err := os.WriteFile(path, []byte("name;mobile\nAmina;0701234567\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	defer func() { sendOpts.file, sendOpts.text = "", "" }()

	sendOpts.file = path
	res, err := loadContacts(contact.NewIngester(10))
	if err != nil {
		t.Fatalf("loadContacts failed: %v", err)
	}
	if len(res.Contacts) != 1 || res.Contacts[0].DisplayName != "Amina" {
		t.Fatalf("unexpected contacts: %+v", res.Contacts)
	}

	sendOpts.file, sendOpts.text = "", "0701234567 0772000111"
	res, err = loadContacts(contact.NewIngester(10))
	if err != nil || len(res.Contacts) != 2 {
		t.Fatalf("text contacts: %v %+v", err, res)
	}

	sendOpts.text = ""
	if _, err := loadContacts(contact.NewIngester(10)); err == nil {
		t.Fatal("expected an error with no source")
	}
}
