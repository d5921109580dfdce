package conversation

import "context"

// Exchange identifies one inbound message and its reply across logs and the journal.
type Exchange struct {
	ID            string
	ParentEventID *int64
}

type exchangeKey struct{}

func WithExchange(ctx context.Context, ex Exchange) context.Context {
	return context.WithValue(ctx, exchangeKey{}, ex)
}

// ExchangeFrom returns the exchange carried by ctx, or the zero Exchange.
func ExchangeFrom(ctx context.Context) Exchange {
	ex, _ := ctx.Value(exchangeKey{}).(Exchange)
	return ex
}

// Journal records audit events. db.Journal satisfies it.
type Journal interface {
	LogEvent(parentID *int64, eventType string, payload map[string]any) (int64, error)
}

type nopJournal struct{}

func (nopJournal) LogEvent(*int64, string, map[string]any) (int64, error) { return 0, nil }

// OrNop returns j, or a journal that discards events when j is nil.
func OrNop(j Journal) Journal {
	if j == nil {
		return nopJournal{}
	}
	return j
}
