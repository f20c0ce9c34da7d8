package persistence

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestCommandRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		cmd  string
		args [][]byte
	}{
		{"NoArgs", "SAVE", nil},
		{"SimpleArgs", "SET", [][]byte{[]byte("ingest:guide.pdf"), []byte("sha256:abc")}},
		{"EmptyArg", "QADD", [][]byte{[]byte("faq"), []byte(""), []byte("question")}},
		{"BinaryArg", "CEMBED", [][]byte{{0x00, 0xA5, 0xFF, 0x01}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame := FormatCommand(tt.cmd, tt.args...)

			payload, n, err := ReadFrame(bytes.NewReader(frame))
			if err != nil {
				t.Fatalf("ReadFrame failed: %v", err)
			}
			if n != len(frame) {
				t.Errorf("ReadFrame consumed %d bytes, frame is %d", n, len(frame))
			}

			name, args, err := ParseCommand(payload)
			if err != nil {
				t.Fatalf("ParseCommand failed: %v", err)
			}
			if name != tt.cmd {
				t.Errorf("name = %q, want %q", name, tt.cmd)
			}
			if len(args) != len(tt.args) {
				t.Fatalf("got %d args, want %d", len(args), len(tt.args))
			}
			for i := range args {
				if !bytes.Equal(args[i], tt.args[i]) {
					t.Errorf("arg %d = %v, want %v", i, args[i], tt.args[i])
				}
			}
		})
	}
}

func TestParseCommandErrors(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
	}{
		{"TooShort", []byte{0x01}},
		{"ZeroElements", []byte{0x00, 0x00}},
		{"TruncatedLengthPrefix", []byte{0x01, 0x00, 0x05, 0x00}},
		{"TruncatedElement", []byte{0x01, 0x00, 0x05, 0x00, 0x00, 0x00, 'a', 'b'}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := ParseCommand(tt.payload); err == nil {
				t.Errorf("ParseCommand(%v) succeeded, want error", tt.payload)
			}
		})
	}

	// Trailing garbage after the declared elements must be rejected too.
	frame := FormatCommand("SET", []byte("k"))
	payload, _, err := ReadFrame(bytes.NewReader(frame))
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := ParseCommand(append(payload, 0xEE)); err == nil {
		t.Error("expected error for trailing bytes")
	}
}

func TestReadFrameValidation(t *testing.T) {
	frame := FormatCommand("DEL", []byte("key"))

	// Bad magic byte.
	bad := append([]byte(nil), frame...)
	bad[0] = 0x00
	if _, _, err := ReadFrame(bytes.NewReader(bad)); !errors.Is(err, ErrInvalidMagic) {
		t.Errorf("bad magic: got %v, want ErrInvalidMagic", err)
	}

	// Flipped payload byte fails the checksum.
	bad = append([]byte(nil), frame...)
	bad[HeaderSize] ^= 0xFF
	if _, _, err := ReadFrame(bytes.NewReader(bad)); !errors.Is(err, ErrChecksumMismatch) {
		t.Errorf("corrupt payload: got %v, want ErrChecksumMismatch", err)
	}

	// Header promising more payload than the stream holds.
	if _, _, err := ReadFrame(bytes.NewReader(frame[:len(frame)-1])); !errors.Is(err, ErrIncompleteFrame) {
		t.Errorf("short payload: got %v, want ErrIncompleteFrame", err)
	}

	// Partial header.
	if _, _, err := ReadFrame(bytes.NewReader(frame[:4])); !errors.Is(err, ErrIncompleteFrame) {
		t.Errorf("partial header: got %v, want ErrIncompleteFrame", err)
	}
}

func TestAOFAppendAndReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.aof")

	writer, err := NewAOFWriter(path)
	if err != nil {
		t.Fatalf("NewAOFWriter failed: %v", err)
	}

	want := []string{"CCREATE", "QADD", "SET"}
	for _, cmd := range want {
		if err := writer.Write(FormatCommand(cmd, []byte("arg"))); err != nil {
			t.Fatalf("Write(%s) failed: %v", cmd, err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	var got []string
	applied, err := ReadAll(path, func(payload []byte) error {
		name, args, err := ParseCommand(payload)
		if err != nil {
			return err
		}
		if len(args) != 1 || string(args[0]) != "arg" {
			t.Errorf("unexpected args for %s: %v", name, args)
		}
		got = append(got, name)
		return nil
	})
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if applied != len(want) {
		t.Errorf("applied %d frames, want %d", applied, len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("replay order %v, want %v", got, want)
		}
	}
}

func TestReadAllMissingFile(t *testing.T) {
	applied, err := ReadAll(filepath.Join(t.TempDir(), "absent.aof"), func([]byte) error {
		t.Fatal("apply called for missing file")
		return nil
	})
	if err != nil || applied != 0 {
		t.Errorf("ReadAll on missing file = (%d, %v), want (0, nil)", applied, err)
	}
}

func TestReadAllToleratesTornTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "torn.aof")

	var log bytes.Buffer
	log.Write(FormatCommand("SET", []byte("a"), []byte("1")))
	log.Write(FormatCommand("SET", []byte("b"), []byte("2")))
	// A crash mid-append leaves a partial header at the tail.
	log.Write([]byte{MagicByte, OpCodeCommand, 0x09})
	if err := os.WriteFile(path, log.Bytes(), 0666); err != nil {
		t.Fatal(err)
	}

	applied, err := ReadAll(path, func([]byte) error { return nil })
	if err != nil {
		t.Fatalf("torn tail must not fail replay: %v", err)
	}
	if applied != 2 {
		t.Errorf("applied %d frames, want 2", applied)
	}
}

func TestReadAllFailsOnCorruption(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corrupt.aof")

	frame1 := FormatCommand("SET", []byte("a"), []byte("1"))
	frame2 := FormatCommand("SET", []byte("b"), []byte("2"))
	data := append(append([]byte(nil), frame1...), frame2...)
	// Corrupt the second frame's payload without touching its header.
	data[len(frame1)+HeaderSize] ^= 0xFF
	if err := os.WriteFile(path, data, 0666); err != nil {
		t.Fatal(err)
	}

	applied, err := ReadAll(path, func([]byte) error { return nil })
	if !errors.Is(err, ErrChecksumMismatch) {
		t.Fatalf("ReadAll = %v, want ErrChecksumMismatch", err)
	}
	if applied != 1 {
		t.Errorf("applied %d frames before corruption, want 1", applied)
	}
}

func TestAOFTruncate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trunc.aof")

	writer, err := NewAOFWriter(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := writer.Write(FormatCommand("SET", []byte("k"), []byte("v"))); err != nil {
		t.Fatal(err)
	}
	if err := writer.Flush(); err != nil {
		t.Fatal(err)
	}
	if err := writer.Truncate(); err != nil {
		t.Fatalf("Truncate failed: %v", err)
	}

	info, err := writer.File().Stat()
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() != 0 {
		t.Errorf("file size after truncate = %d, want 0", info.Size())
	}

	// The writer stays usable afterwards.
	if err := writer.Write(FormatCommand("DEL", []byte("k"))); err != nil {
		t.Fatal(err)
	}
	if err := writer.Close(); err != nil {
		t.Fatal(err)
	}
	applied, err := ReadAll(path, func([]byte) error { return nil })
	if err != nil || applied != 1 {
		t.Errorf("replay after truncate = (%d, %v), want (1, nil)", applied, err)
	}
}

func TestAOFReplaceWith(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "main.aof")
	rewritten := filepath.Join(dir, "rewrite.tmp")

	writer, err := NewAOFWriter(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := writer.Write(FormatCommand("OLD")); err != nil {
		t.Fatal(err)
	}
	if err := writer.Flush(); err != nil {
		t.Fatal(err)
	}

	// Simulate a completed rewrite: a compacted log in a temp file.
	if err := os.WriteFile(rewritten, FormatCommand("NEW"), 0666); err != nil {
		t.Fatal(err)
	}
	if err := writer.ReplaceWith(rewritten); err != nil {
		t.Fatalf("ReplaceWith failed: %v", err)
	}

	// Appends after the swap land in the new file.
	if err := writer.Write(FormatCommand("AFTER")); err != nil {
		t.Fatal(err)
	}
	if err := writer.Close(); err != nil {
		t.Fatal(err)
	}

	var got []string
	if _, err := ReadAll(path, func(payload []byte) error {
		name, _, err := ParseCommand(payload)
		got = append(got, name)
		return err
	}); err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0] != "NEW" || got[1] != "AFTER" {
		t.Errorf("log after replace = %v, want [NEW AFTER]", got)
	}
	if _, err := os.Stat(rewritten); !os.IsNotExist(err) {
		t.Error("temp rewrite file still exists after rename")
	}
}

func TestLazyAOFWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lazy.aof")

	underlying, err := NewAOFWriter(path)
	if err != nil {
		t.Fatal(err)
	}
	// Hour-long tickers keep the background routines out of the test.
	lazy := NewLazyAOFWriterWithConfig(underlying, time.Hour, time.Hour, 1000)

	if err := lazy.Write(FormatCommand("SET", []byte("k"), []byte("v"))); err != nil {
		t.Fatal(err)
	}

	// Nothing on disk until a flush.
	if applied, _ := ReadAll(path, func([]byte) error { return nil }); applied != 0 {
		t.Errorf("found %d frames before flush, want 0", applied)
	}
	if err := lazy.Flush(); err != nil {
		t.Fatal(err)
	}
	if applied, _ := ReadAll(path, func([]byte) error { return nil }); applied != 1 {
		t.Errorf("found %d frames after flush, want 1", applied)
	}

	if err := lazy.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := lazy.Write(FormatCommand("SET", []byte("x"), []byte("y"))); err == nil {
		t.Error("Write after Close succeeded, want error")
	}
	if err := lazy.Close(); err == nil {
		t.Error("second Close succeeded, want error")
	}
}

func TestLazyCloseFlushesPending(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lazy_close.aof")

	underlying, err := NewAOFWriter(path)
	if err != nil {
		t.Fatal(err)
	}
	lazy := NewLazyAOFWriterWithConfig(underlying, time.Hour, time.Hour, 1000)

	for i := 0; i < 10; i++ {
		if err := lazy.Write(FormatCommand("QADD", []byte{byte(i)})); err != nil {
			t.Fatal(err)
		}
	}
	if err := lazy.Close(); err != nil {
		t.Fatal(err)
	}

	applied, err := ReadAll(path, func([]byte) error { return nil })
	if err != nil {
		t.Fatal(err)
	}
	if applied != 10 {
		t.Errorf("replayed %d frames after Close, want 10", applied)
	}
}
