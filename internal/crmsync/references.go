package crmsync

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/deal-sync/pkg/hubspot"
)

// DefaultChunkSize is the number of concurrent lookups per reference kind.
const DefaultChunkSize = 10

// References holds the companies, contacts and owners resolved for a deal
// batch. Ids that failed to resolve are absent.
type References struct {
	Companies map[string]*hubspot.Company
	Contacts  map[string]*hubspot.Contact
	Owners    map[string]*hubspot.Owner
}

// ownerID returns the trimmed owner id property of a deal.
func ownerID(d *hubspot.Deal) string {
	return strings.TrimSpace(d.Properties.Get("hubspot_owner_id"))
}

// referencedIDs scans the batch once and returns each kind's ids in first-seen
// order without duplicates.
func referencedIDs(deals []hubspot.Deal) (companies, contacts, owners []string) {
	seen := map[string]map[string]struct{}{
		"company": {},
		"contact": {},
		"owner":   {},
	}
	add := func(kind string, dst *[]string, id string) {
		if id == "" {
			return
		}
		if _, ok := seen[kind][id]; ok {
			return
		}
		seen[kind][id] = struct{}{}
		*dst = append(*dst, id)
	}

	for i := range deals {
		d := &deals[i]
		for _, id := range d.AssociatedIDs(hubspot.ObjectCompanies) {
			add("company", &companies, id)
		}
		for _, id := range d.AssociatedIDs(hubspot.ObjectContacts) {
			add("contact", &contacts, id)
		}
		add("owner", &owners, ownerID(d))
	}
	return companies, contacts, owners
}

// fetchChunked looks up ids in sequential chunks of chunkSize, running the
// lookups inside a chunk concurrently. Failed lookups are logged and left
// out of the result; only context cancellation is returned.
func fetchChunked[T any](ctx context.Context, ids []string, chunkSize int, kind string, fetch func(context.Context, string) (T, error)) (map[string]T, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	log := zap.L().With(zap.String("kind", kind))

	var mu sync.Mutex
	out := make(map[string]T, len(ids))

	for start := 0; start < len(ids); start += chunkSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := min(start+chunkSize, len(ids))

		var g errgroup.Group
		for _, id := range ids[start:end] {
			g.Go(func() error {
				v, err := fetch(ctx, id)
				if err != nil {
					log.Debug("reference lookup failed", zap.String("id", id), zap.Error(err))
					return nil
				}
				mu.Lock()
				out[id] = v
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ResolveReferences fetches every company, contact and owner referenced by
// deals exactly once. The three kinds are resolved concurrently, each with
// at most chunkSize requests in flight.
func ResolveReferences(ctx context.Context, client hubspot.Client, deals []hubspot.Deal, chunkSize int) (*References, error) {
	companyIDs, contactIDs, ownerIDs := referencedIDs(deals)
	zap.L().Debug("resolving deal references",
		zap.Int("companies", len(companyIDs)),
		zap.Int("contacts", len(contactIDs)),
		zap.Int("owners", len(ownerIDs)),
	)

	refs := &References{}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		m, err := fetchChunked(gctx, companyIDs, chunkSize, "company", client.GetCompany)
		refs.Companies = m
		return err
	})
	g.Go(func() error {
		m, err := fetchChunked(gctx, contactIDs, chunkSize, "contact", client.GetContact)
		refs.Contacts = m
		return err
	})
	g.Go(func() error {
		m, err := fetchChunked(gctx, ownerIDs, chunkSize, "owner", client.GetOwner)
		refs.Owners = m
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return refs, nil
}
