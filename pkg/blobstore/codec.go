package blobstore

import (
	"bytes"
	"io"

	jsoniter "github.com/json-iterator/go"
	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"

	"github.com/trawlhq/trawl/pkg/scrape"
)

var jsonCodec = jsoniter.ConfigCompatibleWithStandardLibrary

// blobs are gzipped JSON arrays of documents
func encodeDocs(docs []scrape.Document) ([]byte, error) {
	buf := &bytes.Buffer{}
	gz := gzip.NewWriter(buf)
	if err := jsonCodec.NewEncoder(gz).Encode(docs); err != nil {
		return nil, errors.Wrap(err, "encoding documents")
	}
	if err := gz.Close(); err != nil {
		return nil, errors.Wrap(err, "closing gzip writer")
	}
	return buf.Bytes(), nil
}

func decodeDocs(r io.Reader) ([]scrape.Document, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, errors.Wrap(err, "opening gzip reader")
	}
	defer func() { _ = gz.Close() }()

	var docs []scrape.Document
	if err := jsonCodec.NewDecoder(gz).Decode(&docs); err != nil {
		return nil, errors.Wrap(err, "decoding documents")
	}
	return docs, nil
}
