package metadata

import "testing"

func TestQualityScore(t *testing.T) {
	full := Descriptive{Artist: "a", Title: "b", Album: "c", Genre: "d", Year: 2001}
	if got := full.QualityScore(); got != 1.0 {
		t.Fatalf("got %v, want 1.0", got)
	}
	empty := Descriptive{}
	if got := empty.QualityScore(); got != 0.0 {
		t.Fatalf("got %v, want 0.0", got)
	}
	partial := Descriptive{Artist: "a", Title: "b"}
	if got := partial.QualityScore(); got != 0.4 {
		t.Fatalf("got %v, want 0.4", got)
	}
}

func TestYearFromDateString(t *testing.T) {
	cases := map[string]int{
		"2019-05-01": 2019,
		"2001":       2001,
		"":           0,
		"unknown":    0,
	}
	for in, want := range cases {
		if got := yearFromDateString(in); got != want {
			t.Errorf("yearFromDateString(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestSynchsafeToUint32(t *testing.T) {
	// 0x00 0x00 0x02 0x01 -> (2<<7)|1 = 257
	if got := synchsafeToUint32([]byte{0x00, 0x00, 0x02, 0x01}); got != 257 {
		t.Fatalf("got %d, want 257", got)
	}
}

func TestParseStreamInfo(t *testing.T) {
	// Construct a synthetic 34-byte STREAMINFO: 44100 Hz, 2 channels,
	// 16-bit, 44100 total samples (1 second).
	si := make([]byte, 34)
	sampleRate := uint32(44100)
	channelsMinusOne := uint32(1) // 2 channels
	bitsMinusOne := uint32(15)    // 16-bit
	totalSamples := uint64(44100)

	si[10] = byte(sampleRate >> 12)
	si[11] = byte(sampleRate >> 4)
	si[12] = byte((sampleRate<<4)&0xF0) | byte((channelsMinusOne<<1)&0x0E) | byte((bitsMinusOne>>4)&0x01)
	si[13] = byte((bitsMinusOne<<4)&0xF0) | byte((totalSamples>>32)&0x0F)
	si[14] = byte(totalSamples >> 24)
	si[15] = byte(totalSamples >> 16)
	si[16] = byte(totalSamples >> 8)
	si[17] = byte(totalSamples)

	got := parseStreamInfo(si)
	if got.SampleRateHz != 44100 {
		t.Errorf("sample rate = %d, want 44100", got.SampleRateHz)
	}
	if got.Channels != 2 {
		t.Errorf("channels = %d, want 2", got.Channels)
	}
	if got.BitDepth != 16 {
		t.Errorf("bit depth = %d, want 16", got.BitDepth)
	}
	if got.DurationSeconds != 1.0 {
		t.Errorf("duration = %v, want 1.0", got.DurationSeconds)
	}
}

func TestParseInfoList(t *testing.T) {
	chunk := func(id, val string) []byte {
		v := []byte(val + "\x00")
		if len(v)%2 != 0 {
			v = append(v, 0)
		}
		out := []byte(id)
		size := make([]byte, 4)
		size[0] = byte(len(v))
		out = append(out, size...)
		return append(out, v...)
	}
	var body []byte
	body = append(body, chunk("IART", "Test Artist")...)
	body = append(body, chunk("INAM", "Test Title")...)

	var d Descriptive
	parseInfoList(body, &d)
	if d.Artist != "Test Artist" {
		t.Errorf("artist = %q", d.Artist)
	}
	if d.Title != "Test Title" {
		t.Errorf("title = %q", d.Title)
	}
}
