package blobstore

import (
	"bytes"
	"context"
	"flag"
	"os"
	"path/filepath"

	"github.com/go-kit/log"
	"github.com/pkg/errors"

	"github.com/trawlhq/trawl/pkg/scrape"
	"github.com/trawlhq/trawl/pkg/util"
)

type LocalConfig struct {
	Path string `yaml:"path"`
}

func (cfg *LocalConfig) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.StringVar(&cfg.Path, util.PrefixConfig(prefix, "path"), "/var/trawl/blobs", "Directory to store result blobs in.")
}

type localStore struct {
	cfg    LocalConfig
	logger log.Logger
}

func newLocal(cfg LocalConfig, logger log.Logger) (Store, error) {
	if err := os.MkdirAll(cfg.Path, 0o700); err != nil {
		return nil, errors.Wrap(err, "creating blob directory")
	}
	return &localStore{cfg: cfg, logger: logger}, nil
}

func (s *localStore) object(jobID string) string {
	return filepath.Join(s.cfg.Path, jobID+".json.gz")
}

func (s *localStore) Get(_ context.Context, jobID string) ([]scrape.Document, error) {
	buf, err := os.ReadFile(s.object(jobID))
	if os.IsNotExist(err) {
		return nil, ErrDoesNotExist
	}
	if err != nil {
		return nil, errors.Wrap(err, "reading blob")
	}
	return decodeDocs(bytes.NewReader(buf))
}

func (s *localStore) Put(_ context.Context, jobID string, docs []scrape.Document) error {
	buf, err := encodeDocs(docs)
	if err != nil {
		return err
	}

	// write-then-rename so readers never observe a partial blob
	tmp := s.object(jobID) + ".tmp"
	if err := os.WriteFile(tmp, buf, 0o600); err != nil {
		return errors.Wrap(err, "writing blob")
	}
	if err := os.Rename(tmp, s.object(jobID)); err != nil {
		_ = os.Remove(tmp)
		return errors.Wrap(err, "renaming blob")
	}
	return nil
}

func (s *localStore) Delete(_ context.Context, jobID string) error {
	err := os.Remove(s.object(jobID))
	if os.IsNotExist(err) {
		return ErrDoesNotExist
	}
	return errors.Wrap(err, "deleting blob")
}
