package signature

import "testing"

func TestClassify(t *testing.T) {
	cases := []struct {
		name    string
		header  []byte
		want    Format
		wantErr bool
	}{
		{"id3 mp3", append([]byte("ID3"), make([]byte, 9)...), MP3, false},
		{"mpeg frame sync fb", append([]byte{0xff, 0xfb}, make([]byte, 10)...), MP3, false},
		{"flac", append([]byte("fLaC"), make([]byte, 8)...), FLAC, false},
		{"ogg", append([]byte("OggS"), make([]byte, 8)...), OGG, false},
		{"m4a ftyp", append(append([]byte{0, 0, 0, 0}, []byte("ftyp")...), make([]byte, 4)...), M4A, false},
		{"wav", append(append([]byte("RIFF"), make([]byte, 4)...), []byte("WAVE")...), WAV, false},
		{"garbage", []byte("not an audio file!!"), "", true},
		{"short", []byte{0x00}, "", true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := Classify(c.header)
			if c.wantErr {
				if err == nil {
					t.Fatalf("expected error, got format %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != c.want {
				t.Fatalf("got %q, want %q", got, c.want)
			}
		})
	}
}

func TestValidateExtensionMismatch(t *testing.T) {
	header := append([]byte("fLaC"), make([]byte, 8)...)
	if _, err := Validate(header, "mp3"); err == nil {
		t.Fatal("expected extension mismatch to fail")
	}
	if _, err := Validate(header, "flac"); err != nil {
		t.Fatalf("expected matching extension to pass, got %v", err)
	}
}
