package mailroom

import (
	"context"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk/internal/config"
	"github.com/spec-kit/helpdesk/internal/persistence"
)

const pollLeaseKey = "mailroom:poll:lease"

// Poller periodically drains unseen mail from the configured mailbox and
// feeds it through the ingestor. One message failing never aborts the rest
// of the batch: the failed message stays unseen and is retried next cycle,
// with the dedup ledger keeping retries down to at most one ticket.
type Poller struct {
	cfg      config.MailConfig
	ingestor *Ingestor
	redis    *persistence.Redis
	logger   *zap.Logger
}

// NewPoller builds the poller.
func NewPoller(cfg config.MailConfig, ingestor *Ingestor, redis *persistence.Redis, logger *zap.Logger) *Poller {
	return &Poller{cfg: cfg, ingestor: ingestor, redis: redis, logger: logger}
}

// Run polls once immediately, then on the configured interval until ctx is
// cancelled.
func (p *Poller) Run(ctx context.Context) error {
	if !p.cfg.Enabled {
		p.logger.Info("mail polling disabled")
		<-ctx.Done()
		return nil
	}

	p.logger.Info("mail polling started",
		zap.Duration("interval", p.cfg.PollInterval()),
		zap.String("mailbox", p.cfg.Mailbox))

	p.pollOnce(ctx)

	ticker := time.NewTicker(p.cfg.PollInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("mail polling stopped")
			return nil
		case <-ticker.C:
			p.pollOnce(ctx)
		}
	}
}

func (p *Poller) pollOnce(parent context.Context) {
	ctx, cancel := context.WithTimeout(parent, p.cfg.RunBudget())
	defer cancel()

	release, acquired := p.acquireLease(ctx)
	if !acquired {
		p.logger.Debug("poll lease held elsewhere, skipping cycle")
		return
	}
	defer release()

	if err := p.drainMailbox(ctx); err != nil {
		p.logger.Error("mail poll cycle failed", zap.Error(err))
	}
}

// acquireLease takes a short redis lock so overlapping poller instances do
// not fetch the same batch. When redis is unreachable the poller proceeds
// alone; the dedup ledger still guarantees at most one ticket per message.
func (p *Poller) acquireLease(ctx context.Context) (func(), bool) {
	if p.redis == nil || p.redis.Client == nil {
		return func() {}, true
	}
	token := uuid.NewString()
	ok, err := p.redis.Client.SetNX(ctx, pollLeaseKey, token, p.cfg.RunBudget()).Result()
	if err != nil {
		p.logger.Warn("poll lease unavailable, proceeding without it", zap.Error(err))
		return func() {}, true
	}
	if !ok {
		return nil, false
	}
	return func() {
		const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then return redis.call("del", KEYS[1]) else return 0 end`
		if err := p.redis.Client.Eval(context.Background(), releaseScript, []string{pollLeaseKey}, token).Err(); err != nil {
			p.logger.Warn("failed to release poll lease", zap.Error(err))
		}
	}, true
}

func (p *Poller) drainMailbox(ctx context.Context) error {
	c, err := client.DialTLS(p.cfg.IMAPAddr(), nil)
	if err != nil {
		return err
	}
	// the connection is released on every exit path
	defer c.Logout() //nolint:errcheck
	c.Timeout = p.cfg.RunBudget()

	if err := c.Login(p.cfg.Username, p.cfg.Password); err != nil {
		return err
	}
	if _, err := c.Select(p.cfg.Mailbox, false); err != nil {
		return err
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	criteria.Since = time.Now().Add(-p.cfg.SearchWindow())

	uids, err := c.UidSearch(criteria)
	if err != nil {
		return err
	}
	if len(uids) == 0 {
		p.logger.Debug("no unseen mail")
		return nil
	}
	p.logger.Info("unseen mail found", zap.Int("count", len(uids)))

	section := &imap.BodySectionName{}
	items := []imap.FetchItem{section.FetchItem(), imap.FetchUid}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)

	messages := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	go func() {
		done <- c.UidFetch(seqset, items, messages)
	}()

	budgetHit := false
	for msg := range messages {
		if ctx.Err() != nil {
			// cycle out of time: drain the fetch without processing, the
			// messages stay unseen and the next cycle retries them
			if !budgetHit {
				p.logger.Warn("poll cycle out of time, deferring remaining messages")
				budgetHit = true
			}
			continue
		}
		p.handleMessage(ctx, c, msg, section)
	}

	if err := <-done; err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func (p *Poller) handleMessage(ctx context.Context, c *client.Client, msg *imap.Message, section *imap.BodySectionName) {
	body := msg.GetBody(section)
	if body == nil {
		p.logger.Warn("fetched message has no body", zap.Uint32("uid", msg.Uid))
		return
	}

	parsed, err := Parse(body)
	if err != nil {
		p.logger.Error("failed to parse inbound mail", zap.Uint32("uid", msg.Uid), zap.Error(err))
		return
	}

	result, err := p.ingestor.Ingest(ctx, parsed)
	if err != nil {
		p.logger.Error("failed to ingest inbound mail",
			zap.Uint32("uid", msg.Uid),
			zap.String("from", parsed.From),
			zap.Error(err))
		return
	}
	if result.Duplicate {
		p.logger.Info("duplicate inbound mail skipped",
			zap.Uint32("uid", msg.Uid),
			zap.String("message_id", parsed.MessageID))
	}

	// only after the ledger record is durable is the source message
	// acknowledged
	p.markSeen(c, msg.Uid)
}

func (p *Poller) markSeen(c *client.Client, uid uint32) {
	seqset := new(imap.SeqSet)
	seqset.AddNum(uid)
	item := imap.FormatFlagsOp(imap.AddFlags, true)
	if err := c.UidStore(seqset, item, []interface{}{imap.SeenFlag}, nil); err != nil {
		p.logger.Warn("failed to mark message seen", zap.Uint32("uid", uid), zap.Error(err))
	}
}
