package stage

import (
	"context"
	"errors"
	"strings"
	"testing"

	"ghdiscover/internal/adapters/ingest/gharchive"
	perr "ghdiscover/internal/platform/errors"
	"ghdiscover/internal/services/scrape/domain"
)

const threeRecords = `{"id":"1","type":"PushEvent","actor":{"id":1,"login":"a"},"repo":{"id":10,"name":"a/x"}}
{"id":"2","type":"IssuesEvent","actor":{"id":2,"login":"b"},"repo":{"id":20,"name":"b/y"},"payload":{"issue":{"title":"héllo\nworld"}}}
{"id":"3","type":"WatchEvent","actor":{"id":3,"login":"c"},"repo":{"id":30,"name":"c/z"}}
`

type collector struct{ events []domain.Event }

func (c *collector) add(ev domain.Event) error {
	c.events = append(c.events, ev)
	return nil
}

func (c *collector) raws() []string {
	out := make([]string, len(c.events))
	for i, ev := range c.events {
		out[i] = string(ev.Raw)
	}
	return out
}

func feedAll(t *testing.T, p *Parser, chunks [][]byte) (*collector, error) {
	t.Helper()
	p.Reset(testShard)
	c := &collector{}
	for _, ch := range chunks {
		if err := p.Feed(ch, c.add); err != nil {
			return c, err
		}
	}
	return c, p.Finish(c.add)
}

func TestParser_BoundaryInvariance(t *testing.T) {
	data := []byte(threeRecords)
	want := strings.Split(strings.TrimSuffix(threeRecords, "\n"), "\n")
	p := NewParser(gharchive.JSONDecoder{}, DefaultParserOptions())

	check := func(t *testing.T, chunks [][]byte) {
		c, err := feedAll(t, p, chunks)
		if err != nil {
			t.Fatal(err)
		}
		got := c.raws()
		if len(got) != len(want) {
			t.Fatalf("got %d records", len(got))
		}
		for i := range want {
			if got[i] != want[i] || c.events[i].Line != i+1 || c.events[i].Shard != testShard {
				t.Fatalf("record %d = %q line %d", i, got[i], c.events[i].Line)
			}
		}
		if c.events[1].Envelope.ID != "2" || c.events[1].Envelope.Actor.Login != "b" {
			t.Fatalf("decoded = %+v", c.events[1].Envelope)
		}
	}

	// every single split point
	for i := 0; i <= len(data); i++ {
		check(t, [][]byte{data[:i], data[i:]})
	}
	// fixed size chunking, down to one byte at a time
	for _, n := range []int{1, 2, 7, 64} {
		var chunks [][]byte
		for off := 0; off < len(data); off += n {
			chunks = append(chunks, data[off:min(off+n, len(data))])
		}
		check(t, chunks)
	}
}

func TestParser_EndOfStream(t *testing.T) {
	dec := gharchive.JSONDecoder{}

	t.Run("clean end", func(t *testing.T) {
		p := NewParser(dec, DefaultParserOptions())
		c, err := feedAll(t, p, [][]byte{[]byte(threeRecords)})
		if err != nil || len(c.events) != 3 {
			t.Fatalf("%d events, %v", len(c.events), err)
		}
		if s := p.Stats(); s.Records != 3 || s.Bytes != int64(len(threeRecords)) {
			t.Fatalf("stats = %+v", s)
		}
	})

	t.Run("complete value without newline", func(t *testing.T) {
		p := NewParser(dec, DefaultParserOptions())
		c, err := feedAll(t, p, [][]byte{[]byte(`{"id":"1"}` + "\n" + `{"id":"2"}`)})
		if err != nil || len(c.events) != 2 || c.events[1].Envelope.ID != "2" {
			t.Fatalf("%+v, %v", c.raws(), err)
		}
	})

	t.Run("truncated tail", func(t *testing.T) {
		p := NewParser(dec, DefaultParserOptions())
		c, err := feedAll(t, p, [][]byte{[]byte(`{"id":"1"}` + "\n" + `{"id":"2","ty`)})
		if !errors.Is(err, domain.ErrTruncated) || !errors.Is(err, domain.ErrParse) {
			t.Fatalf("err = %v", err)
		}
		if len(c.events) != 1 {
			t.Fatalf("partial record emitted: %v", c.raws())
		}
	})

	t.Run("blank lines and CRLF", func(t *testing.T) {
		p := NewParser(dec, DefaultParserOptions())
		c, err := feedAll(t, p, [][]byte{[]byte("\n\r\n" + `{"id":"1"}` + "\r\n   \n" + `{"id":"2"}` + "\r\n")})
		if err != nil || len(c.events) != 2 {
			t.Fatalf("%v, %v", c.raws(), err)
		}
		if c.raws()[0] != `{"id":"1"}` || c.events[1].Line != 5 {
			t.Fatalf("raw = %q line %d", c.raws()[0], c.events[1].Line)
		}
	})
}

func TestParser_Malformed(t *testing.T) {
	input := []byte(`{"id":"1"}` + "\n" + `{"id":` + "\n" + `{"id":"3"}` + "\n")

	skip := NewParser(gharchive.JSONDecoder{}, DefaultParserOptions())
	c, err := feedAll(t, skip, [][]byte{input})
	if err != nil || len(c.events) != 2 || skip.Stats().Skipped != 1 {
		t.Fatalf("skip: %v, %v, %+v", c.raws(), err, skip.Stats())
	}
	if c.events[1].Line != 3 {
		t.Fatalf("line numbers must count skipped lines, got %d", c.events[1].Line)
	}

	strict := NewParser(gharchive.JSONDecoder{}, ParserOptions{SkipMalformed: false})
	c, err = feedAll(t, strict, [][]byte{input})
	if !errors.Is(err, domain.ErrParse) || !perr.IsCode(err, perr.ErrorCodeParse) || len(c.events) != 1 {
		t.Fatalf("strict: %v, %v", c.raws(), err)
	}
}

func TestParser_OversizeRecord(t *testing.T) {
	p := NewParser(gharchive.JSONDecoder{}, ParserOptions{MaxRecordBytes: 16, SkipMalformed: true})
	_, err := feedAll(t, p, [][]byte{[]byte(`{"id":"1234`), []byte(`5678901234"}` + "\n")})
	if !errors.Is(err, domain.ErrParse) {
		t.Fatalf("err = %v", err)
	}
	_, err = feedAll(t, p, [][]byte{[]byte(`{"id":"12345678901234"}` + "\n")})
	if !errors.Is(err, domain.ErrParse) {
		t.Fatalf("single chunk err = %v", err)
	}
}

func TestParser_CallbackErrorAborts(t *testing.T) {
	p := NewParser(gharchive.JSONDecoder{}, DefaultParserOptions())
	p.Reset(testShard)
	stop := errors.New("stop")
	calls := 0
	err := p.Feed([]byte(threeRecords), func(domain.Event) error {
		calls++
		return stop
	})
	if !errors.Is(err, stop) || calls != 1 {
		t.Fatalf("err = %v after %d calls", err, calls)
	}
}

func TestParser_ParseOverLink(t *testing.T) {
	ctx := context.Background()
	p := NewParser(gharchive.JSONDecoder{}, DefaultParserOptions())
	c := &collector{}
	if err := p.Parse(ctx, testShard, feed(ctx, []byte(threeRecords), 5, nil), c.add); err != nil {
		t.Fatal(err)
	}
	if len(c.events) != 3 {
		t.Fatalf("events = %d", len(c.events))
	}

	boom := domain.CodecFailure(testShard, errors.New("crc"))
	err := p.Parse(ctx, testShard, feed(ctx, []byte(threeRecords), 5, boom), (&collector{}).add)
	if !domain.Derived(err) || !errors.Is(err, domain.ErrCodec) {
		t.Fatalf("upstream err = %v", err)
	}
}
