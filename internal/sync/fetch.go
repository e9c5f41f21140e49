package sync

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/hkdb/aerion-sync/internal/message"
)

const (
	// fetchBatchSize bounds how many messages are held in memory (and in
	// one upsert transaction) at a time, matching the teacher's hybrid
	// header/body batching scale.
	fetchBatchSize = 200

	// maxMessageSize caps how much of one message body we'll read off the
	// wire; pathological messages get truncated rather than stalling sync.
	maxMessageSize = 50 * 1024 * 1024

	// bodyParseTimeout bounds MIME parsing of one message.
	bodyParseTimeout = 15 * time.Second
)

// latestUID returns the highest UID currently in the selected mailbox, or 0
// if it's empty. Grounded on UID SEARCH ALL, run in a goroutine so ctx
// cancellation can abandon the wait.
func latestUID(ctx context.Context, client *imapclient.Client) (uint32, error) {
	searchCmd := client.UIDSearch(&imap.SearchCriteria{}, nil)

	type result struct {
		data *imap.SearchData
		err  error
	}
	done := make(chan result, 1)
	go func() {
		data, err := searchCmd.Wait()
		done <- result{data: data, err: err}
	}()

	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case r := <-done:
		if r.err != nil {
			return 0, fmt.Errorf("uid search all: %w", r.err)
		}
		var max uint32
		for _, uid := range r.data.AllUIDs() {
			if uint32(uid) > max {
				max = uint32(uid)
			}
		}
		return max, nil
	}
}

// uidsSince returns every UID strictly greater than low in the selected
// mailbox, ascending. low == 0 means "every UID" (a cold sync).
func uidsSince(ctx context.Context, client *imapclient.Client, low uint32) ([]uint32, error) {
	criteria := &imap.SearchCriteria{}
	if low > 0 {
		uidSet := imap.UIDSet{}
		uidSet.AddRange(imap.UID(low+1), 0) // 0 = "*", highest available
		criteria.UID = []imap.UIDSet{uidSet}
	}

	searchCmd := client.UIDSearch(criteria, nil)

	type result struct {
		data *imap.SearchData
		err  error
	}
	done := make(chan result, 1)
	go func() {
		data, err := searchCmd.Wait()
		done <- result{data: data, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("uid search: %w", r.err)
		}
		uids := r.data.AllUIDs()
		out := make([]uint32, 0, len(uids))
		for _, uid := range uids {
			if uint32(uid) > low {
				out = append(out, uint32(uid))
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
		return out, nil
	}
}

// chunkUIDs splits a sorted UID slice into batches of at most size.
func chunkUIDs(uids []uint32, size int) [][]uint32 {
	if len(uids) == 0 {
		return nil
	}
	var out [][]uint32
	for len(uids) > 0 {
		n := size
		if n > len(uids) {
			n = len(uids)
		}
		out = append(out, uids[:n])
		uids = uids[n:]
	}
	return out
}

// fetchBatch fetches envelope, flags, size, internal date and full body for
// the given UIDs in one FETCH command, streaming results instead of
// blocking on Collect() so a slow or dying connection yields partial
// progress (grounded on the adapter's legacy fetchMessages path).
func (e *Engine) fetchBatch(ctx context.Context, client *imapclient.Client, folderID int64, uids []uint32) ([]message.Email, error) {
	if len(uids) == 0 {
		return nil, nil
	}

	uidSet := imap.UIDSet{}
	for _, uid := range uids {
		uidSet.AddNum(imap.UID(uid))
	}

	fetchOptions := &imap.FetchOptions{
		UID:          true,
		Envelope:     true,
		Flags:        true,
		RFC822Size:   true,
		InternalDate: true,
		BodySection: []*imap.FetchItemBodySection{
			{Specifier: imap.PartSpecifierNone, Peek: true},
		},
	}

	fetchCmd := client.Fetch(uidSet, fetchOptions)

	var emails []message.Email
	for {
		if ctx.Err() != nil {
			fetchCmd.Close()
			e.log.Warn().Int("fetched", len(emails)).Int("requested", len(uids)).
				Msg("fetch cancelled, returning partial batch")
			return emails, ctx.Err()
		}

		msg := fetchCmd.Next()
		if msg == nil {
			break
		}

		var uid imap.UID
		var envelope *imap.Envelope
		var flags []imap.Flag
		var size int64
		var internalDate time.Time
		var raw []byte

		for {
			item := msg.Next()
			if item == nil {
				break
			}
			switch data := item.(type) {
			case imapclient.FetchItemDataUID:
				uid = data.UID
			case imapclient.FetchItemDataEnvelope:
				envelope = data.Envelope
			case imapclient.FetchItemDataFlags:
				flags = data.Flags
			case imapclient.FetchItemDataRFC822Size:
				size = data.Size
			case imapclient.FetchItemDataInternalDate:
				internalDate = data.Time
			case imapclient.FetchItemDataBodySection:
				if data.Literal != nil {
					lr := io.LimitReader(data.Literal, maxMessageSize)
					b, err := io.ReadAll(lr)
					if err != nil {
						e.log.Warn().Err(err).Msg("failed to read body literal")
					}
					raw = b
				}
			}
		}

		if uid == 0 {
			// Invalid/absent UID: drop rather than risk colliding with a
			// real message (spec's UID=0 resilience requirement).
			e.log.Warn().Msg("dropping fetch response with UID 0")
			continue
		}

		parsed := e.parseMessageBody(raw, bodyParseTimeout)
		emails = append(emails, buildEmail(folderID, uint32(uid), flags, envelope, internalDate, size, parsed))
	}

	if err := fetchCmd.Close(); err != nil {
		return emails, fmt.Errorf("fetch: %w", err)
	}
	return emails, nil
}
