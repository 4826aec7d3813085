package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"
	"golang.org/x/text/encoding/charmap"

	"github.com/Ning0612/Sftpmirror/internal/adapter"
	"github.com/Ning0612/Sftpmirror/internal/domain"
	"github.com/Ning0612/Sftpmirror/internal/identity"
	"github.com/Ning0612/Sftpmirror/internal/progress"
	"github.com/Ning0612/Sftpmirror/internal/task"
)

// MaxFetchSize bounds files read by FetchFile and FetchPair
const MaxFetchSize = 16 << 20

const (
	EncodingUTF8   = "utf-8"
	EncodingLatin1 = "iso-8859-1"
)

// decodeText returns data as a string, reinterpreting it as ISO-8859-1 when
// it is not valid UTF-8.
func decodeText(data []byte) (string, string, error) {
	if utf8.Valid(data) {
		return string(data), EncodingUTF8, nil
	}
	out, err := charmap.ISO8859_1.NewDecoder().Bytes(data)
	if err != nil {
		return "", "", err
	}
	return string(out), EncodingLatin1, nil
}

// FetchFile downloads one file from ep as text. The result is a FileContent.
func (s *Service) FetchFile(ctx context.Context, ep domain.Endpoint, rel string) *task.Stream {
	return task.Run(ctx, "fetch-file", func(ctx context.Context, emit *task.Emitter) (any, error) {
		if err := normalize(&ep); err != nil {
			return nil, err
		}
		sess, release, err := s.connect(ctx, s.dialer, ep, emit)
		if err != nil {
			return nil, err
		}
		defer release()

		fc, err := fetch(ctx, sess, ep, rel)
		if err != nil {
			return nil, err
		}
		if fc.Missing {
			return nil, fmt.Errorf("%s: %s: %w", ep.Label(), rel, domain.ErrNotFound)
		}
		emit.Progressf("Fetched %s from %s", fc.Path, ep.Label())
		return fc, nil
	})
}

// FetchPair downloads the same path from both endpoints concurrently.
// A side where the file does not exist is marked Missing; the task fails
// only when neither side has it. The result is a FilePair.
func (s *Service) FetchPair(ctx context.Context, src, tgt domain.Endpoint, rel string) *task.Stream {
	return task.Run(ctx, "fetch-pair", func(ctx context.Context, emit *task.Emitter) (any, error) {
		if err := normalize(&src, &tgt); err != nil {
			return nil, err
		}

		var pair FilePair
		g, gctx := errgroup.WithContext(ctx)
		for _, side := range []struct {
			ep  domain.Endpoint
			out *FileContent
		}{{src, &pair.Source}, {tgt, &pair.Target}} {
			g.Go(func() error {
				sess, release, err := s.connect(gctx, s.dialer, side.ep, emit)
				if err != nil {
					return err
				}
				defer release()

				fc, err := fetch(gctx, sess, side.ep, rel)
				if err != nil {
					return err
				}
				*side.out = fc
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}

		if pair.Source.Missing && pair.Target.Missing {
			return nil, fmt.Errorf("%s: %w on both endpoints", rel, domain.ErrNotFound)
		}
		emit.Progressf("Fetched %s from both endpoints", pair.Source.Path)
		return pair, nil
	})
}

// fetch reads one file. ErrNotFound yields a Missing FileContent, not an error.
func fetch(ctx context.Context, sess adapter.Session, ep domain.Endpoint, rel string) (FileContent, error) {
	rel, err := domain.CleanRel(rel)
	if err != nil {
		return FileContent{}, err
	}
	fc := FileContent{Endpoint: ep.Label(), Path: rel}
	full := ep.RemotePath(rel)

	st, err := sess.Stat(ctx, full)
	if errors.Is(err, domain.ErrNotFound) {
		fc.Missing = true
		return fc, nil
	}
	if err != nil {
		return fc, fmt.Errorf("%s: stat %s: %w", ep.Label(), rel, err)
	}
	if !st.IsFile() {
		return fc, fmt.Errorf("%s: %s: %w", ep.Label(), rel, domain.ErrNotFile)
	}
	if st.Size > MaxFetchSize {
		return fc, fmt.Errorf("%s: %s is %d bytes, larger than %d", ep.Label(), rel, st.Size, MaxFetchSize)
	}

	rc, err := sess.Open(ctx, full)
	if err != nil {
		return fc, fmt.Errorf("%s: open %s: %w", ep.Label(), rel, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, MaxFetchSize+1))
	if err != nil {
		return fc, fmt.Errorf("%s: read %s: %w", ep.Label(), rel, err)
	}
	if fc.Content, fc.Encoding, err = decodeText(data); err != nil {
		return fc, fmt.Errorf("%s: decode %s: %w", ep.Label(), rel, err)
	}

	ids, _ := identity.Resolve(ctx, sess)
	fc.Owner = ids.OwnerName(int(st.UID))
	fc.Group = ids.GroupName(int(st.GID))
	fc.Mode = domain.FormatOctal(st.Mode)
	return fc, nil
}

// UploadFile writes content to rel on ep, creating missing parent
// directories. The result is an UploadComplete.
func (s *Service) UploadFile(ctx context.Context, ep domain.Endpoint, rel string, content []byte) *task.Stream {
	return task.Run(ctx, "upload", func(ctx context.Context, emit *task.Emitter) (any, error) {
		if err := normalize(&ep); err != nil {
			return nil, err
		}
		rel, err := domain.CleanRel(rel)
		if err != nil {
			return nil, err
		}

		unlock, err := s.acquire(ep, "upload", emit)
		if err != nil {
			return nil, err
		}
		defer unlock()

		sess, release, err := s.connect(ctx, s.dialer, ep, emit)
		if err != nil {
			return nil, err
		}
		defer release()

		full := ep.RemotePath(rel)
		dir := path.Dir(full)
		outcome, err := ensureDirectoryExists(ctx, sess, dir)
		switch {
		case err != nil:
			emit.Warn(fmt.Errorf("ensure directory %s: %w", dir, err))
		case outcome == DirCreated:
			emit.Progressf("Created directory %s", dir)
		}

		n, err := sess.Create(ctx, full, bytes.NewReader(content))
		if err != nil {
			return nil, fmt.Errorf("%s: upload %s: %w", ep.Label(), rel, err)
		}
		emit.Progressf("Uploaded %s to %s (%s)", rel, ep.Label(), progress.FormatBytes(n))
		return UploadComplete{Endpoint: ep.Label(), Path: rel, Bytes: n}, nil
	})
}
