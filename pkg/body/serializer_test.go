package body

import (
	"bytes"
	stdjson "encoding/json"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cerrors "github.com/tokmz/courier/pkg/errors"
)

// bufferSink 记录写入内容与关闭方式
type bufferSink struct {
	bytes.Buffer
	closed     int
	closedWith error
	failAfter  int
	writes     int
}

func (s *bufferSink) Write(p []byte) (int, error) {
	if s.failAfter > 0 && s.writes >= s.failAfter {
		return 0, io.ErrClosedPipe
	}
	s.writes++
	return s.Buffer.Write(p)
}

func (s *bufferSink) Close() error {
	s.closed++
	return nil
}

func (s *bufferSink) CloseWithError(err error) error {
	s.closed++
	s.closedWith = err
	return nil
}

type plainSink struct {
	bytes.Buffer
	closed bool
}

func (s *plainSink) Close() error {
	s.closed = true
	return nil
}

type closingReader struct {
	io.Reader
	closed bool
}

func (r *closingReader) Close() error {
	r.closed = true
	return nil
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, errors.New("disk gone")
}

func TestSerializeRaw(t *testing.T) {
	s := NewSerializer()

	sink := &bufferSink{}
	require.NoError(t, s.Serialize(String("hello world"), sink))
	assert.Equal(t, "hello world", sink.String())
	assert.Equal(t, 1, sink.closed)
	assert.NoError(t, sink.closedWith)

	r := &closingReader{Reader: strings.NewReader("abc")}
	sink = &bufferSink{}
	require.NoError(t, s.Serialize(Raw(r), sink))
	assert.Equal(t, "abc", sink.String())
	assert.True(t, r.closed)
}

func TestSerializeEmpty(t *testing.T) {
	s := NewSerializer()

	for _, src := range []Source{Empty(), Raw(nil), {}} {
		sink := &plainSink{}
		require.NoError(t, s.Serialize(src, sink))
		assert.Zero(t, sink.Len())
		assert.True(t, sink.closed)
	}
}

func TestSerializeJSON(t *testing.T) {
	s := NewSerializer()
	doc := map[string]any{
		"name":  "courier",
		"tags":  []any{"http", "ws", nil, 3},
		"inner": map[string]any{"b": true, "a": 1.5},
		"raw":   stdjson.RawMessage(`{"x":1}`),
		"html":  "<a>",
	}

	sink := &bufferSink{}
	require.NoError(t, s.Serialize(JSON(doc), sink))

	var got map[string]any
	require.NoError(t, stdjson.Unmarshal(sink.Bytes(), &got))
	assert.Equal(t, "courier", got["name"])
	assert.Equal(t, []any{"http", "ws", nil, float64(3)}, got["tags"])
	assert.Equal(t, map[string]any{"a": 1.5, "b": true}, got["inner"])
	assert.Equal(t, map[string]any{"x": float64(1)}, got["raw"])
	assert.Equal(t, "<a>", got["html"])

	// 键按字典序输出
	assert.True(t, strings.HasPrefix(sink.String(), `{"html":`))
}

func TestSerializeJSONNilContainers(t *testing.T) {
	doc := map[string]any{"m": map[string]any(nil), "s": []any(nil), "e": []any{}}

	sink := &bufferSink{}
	require.NoError(t, NewSerializer().Serialize(JSON(doc), sink))

	want, err := stdjson.Marshal(doc)
	require.NoError(t, err)
	assert.JSONEq(t, string(want), sink.String())
	assert.Equal(t, `{"e":[],"m":null,"s":null}`, sink.String())

	sink = &bufferSink{}
	require.NoError(t, NewSerializer().Serialize(JSON([]any(nil)), sink))
	assert.Equal(t, "null", sink.String())
}

func TestSerializeJSONStruct(t *testing.T) {
	type user struct {
		ID   int    `json:"id"`
		Name string `json:"name"`
	}

	sink := &bufferSink{}
	require.NoError(t, NewSerializer().Serialize(JSON([]any{user{1, "a"}, user{2, "b"}}), sink))
	assert.JSONEq(t, `[{"id":1,"name":"a"},{"id":2,"name":"b"}]`, sink.String())
}

func TestSerializeValue(t *testing.T) {
	v := SerializableFunc(func(w io.Writer) error {
		_, err := io.WriteString(w, "self")
		return err
	})

	sink := &bufferSink{}
	require.NoError(t, NewSerializer().Serialize(Value(v), sink))
	assert.Equal(t, "self", sink.String())
}

func TestSerializeErrorKinds(t *testing.T) {
	s := NewSerializer()

	t.Run("source failure is serialization", func(t *testing.T) {
		sink := &bufferSink{}
		err := s.Serialize(Raw(failingReader{}), sink)
		require.Error(t, err)
		assert.Equal(t, cerrors.KindSerialization, cerrors.KindOf(err))
		assert.True(t, cerrors.Is(err, ErrSerialize))
		assert.Equal(t, 1, sink.closed)
		assert.Equal(t, err, sink.closedWith)
	})

	t.Run("value failure is serialization", func(t *testing.T) {
		sink := &bufferSink{}
		err := s.Serialize(Value(SerializableFunc(func(io.Writer) error {
			return errors.New("bad value")
		})), sink)
		require.Error(t, err)
		assert.Equal(t, cerrors.KindSerialization, cerrors.KindOf(err))
		assert.ErrorContains(t, err, "bad value")
	})

	t.Run("unsupported json leaf is serialization", func(t *testing.T) {
		sink := &bufferSink{}
		err := s.Serialize(JSON(map[string]any{"ch": make(chan int)}), sink)
		require.Error(t, err)
		assert.Equal(t, cerrors.KindSerialization, cerrors.KindOf(err))
		assert.Equal(t, 1, sink.closed)
	})

	t.Run("sink failure is transfer", func(t *testing.T) {
		sink := &bufferSink{failAfter: 1}
		err := s.Serialize(JSON([]any{1, 2, 3}), sink)
		require.Error(t, err)
		assert.Equal(t, cerrors.KindTransfer, cerrors.KindOf(err))
		assert.ErrorIs(t, err, io.ErrClosedPipe)
		assert.Equal(t, 1, sink.closed)
	})

	t.Run("panic is recovered", func(t *testing.T) {
		sink := &plainSink{}
		err := s.Serialize(Value(SerializableFunc(func(io.Writer) error {
			panic("boom")
		})), sink)
		require.Error(t, err)
		assert.Equal(t, cerrors.KindSerialization, cerrors.KindOf(err))
		assert.True(t, sink.closed)
	})
}

func readParts(t *testing.T, r io.Reader, boundary string) map[string]string {
	t.Helper()
	out := make(map[string]string)
	mr := multipart.NewReader(r, boundary)
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			return out
		}
		require.NoError(t, err)
		data, err := io.ReadAll(p)
		require.NoError(t, err)
		out[p.FormName()+"|"+p.Header.Get("Content-Type")] = string(data)
	}
}

func TestSerializeMultipart(t *testing.T) {
	parts := []*Part{
		FormField("title", "hello"),
		FormFile("file", "a.txt", "text/plain", strings.NewReader("file body")),
		NewPart("application/json", JSON(map[string]any{"k": "v"})).
			WithHeader("Content-Disposition", `form-data; name="meta"`),
	}

	sink := &bufferSink{}
	boundary := NewBoundary()
	require.NoError(t, NewSerializer().SerializeMultipart(boundary, Multipart(parts, nil), sink))
	assert.Equal(t, 1, sink.closed)

	got := readParts(t, &sink.Buffer, boundary)
	assert.Equal(t, map[string]string{
		"title|":                "hello",
		"file|text/plain":       "file body",
		"meta|application/json": `{"k":"v"}`,
	}, got)
	assert.True(t, strings.HasSuffix(sink.String(), "--"+boundary+"--\r\n"))
}

func TestSerializeNestedMultipart(t *testing.T) {
	inner := Multipart([]*Part{
		NewPart("text/plain", String("one")),
		NewPart("text/html", String("<b>two</b>")),
	}, nil)
	outer := Multipart([]*Part{
		NewPart("multipart/alternative", inner),
	}, nil)

	sink := &bufferSink{}
	boundary := NewBoundary()
	require.NoError(t, NewSerializer().SerializeMultipart(boundary, outer, sink))

	mr := multipart.NewReader(&sink.Buffer, boundary)
	p, err := mr.NextPart()
	require.NoError(t, err)

	mt, params, err := mime.ParseMediaType(p.Header.Get("Content-Type"))
	require.NoError(t, err)
	assert.Equal(t, "multipart/alternative", mt)
	require.NotEmpty(t, params["boundary"])

	got := readParts(t, p, params["boundary"])
	assert.Equal(t, map[string]string{
		"|text/plain": "one",
		"|text/html":  "<b>two</b>",
	}, got)

	_, err = mr.NextPart()
	assert.Equal(t, io.EOF, err)
}

func TestSerializeMultipartLegacyFallback(t *testing.T) {
	s := NewSerializer()

	sink := &bufferSink{}
	require.NoError(t, s.SerializeMultipart("b", Multipart(nil, strings.NewReader("preencoded")), sink))
	assert.Equal(t, "preencoded", sink.String())

	// 非 multipart 路径下 multipart 源按原始字节写出
	sink = &bufferSink{}
	require.NoError(t, s.Serialize(Multipart([]*Part{FormField("a", "b")}, strings.NewReader("raw")), sink))
	assert.Equal(t, "raw", sink.String())
}

func TestSerializeMultipartNilPart(t *testing.T) {
	sink := &bufferSink{}
	err := NewSerializer().SerializeMultipart("b", Multipart([]*Part{nil}, nil), sink)
	require.Error(t, err)
	assert.Equal(t, cerrors.KindSerialization, cerrors.KindOf(err))
	assert.Equal(t, 1, sink.closed)
}
