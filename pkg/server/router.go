package server

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/NicolasHaas/gotalk/pkg/events"
	"github.com/NicolasHaas/gotalk/pkg/model"
	"github.com/NicolasHaas/gotalk/pkg/protocol"
)

// Audience selects the recipients of a Delivery.
type Audience int

const (
	ToEveryone Audience = iota // every registered session, sender included
	ToUser                     // one named session
)

// Delivery is one message for one audience.
type Delivery struct {
	To   Audience
	User string // recipient for ToUser
	Text string
}

// FileLister lists the names of stored files.
type FileLister interface {
	List(ctx context.Context) ([]string, error)
}

// RouterOptions are the optional collaborators of a Router.
type RouterOptions struct {
	Events   *events.Bus
	Metrics  *Metrics
	Files    FileLister
	FileAddr func() string
}

// Router turns commands into deliveries and writes them through the
// registry. Poll state is guarded by its own mutex; registry access goes
// through the registry's lock.
type Router struct {
	registry *Registry
	events   *events.Bus
	metrics  *Metrics
	files    FileLister
	fileAddr func() string

	pollMu sync.Mutex
	poll   *model.Poll // nil until the first /poll
}

// NewRouter creates a router over registry.
func NewRouter(registry *Registry, opts RouterOptions) *Router {
	if opts.Events == nil {
		opts.Events = events.NewBus()
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics()
	}
	if opts.FileAddr == nil {
		opts.FileAddr = func() string { return "" }
	}
	return &Router{
		registry: registry,
		events:   opts.Events,
		metrics:  opts.Metrics,
		files:    opts.Files,
		fileAddr: opts.FileAddr,
	}
}

func everyone(text string) Delivery { return Delivery{To: ToEveryone, Text: text} }

func toUser(user, text string) Delivery { return Delivery{To: ToUser, User: user, Text: text} }

// Route interprets cmd from sender and returns the resulting deliveries.
func (r *Router) Route(sender string, cmd model.Command) []Delivery {
	switch cmd.Kind {
	case model.CmdPlain:
		r.metrics.MessagesBroadcast.Add(1)
		return []Delivery{everyone(protocol.FormatBroadcast(sender, cmd.Text))}

	case model.CmdPrivate:
		if _, ok := r.registry.Lookup(cmd.Target); !ok {
			r.metrics.PrivateNotFound.Add(1)
			return []Delivery{toUser(sender, protocol.FormatNotFound(cmd.Target))}
		}
		r.metrics.PrivateMessages.Add(1)
		return []Delivery{toUser(cmd.Target, protocol.FormatPrivate(sender, cmd.Text))}

	case model.CmdPollCreate:
		r.pollMu.Lock()
		r.poll = model.NewPoll(cmd.Text, sender)
		r.pollMu.Unlock()
		r.metrics.PollsCreated.Add(1)
		return []Delivery{everyone(protocol.FormatPollCreated(cmd.Text))}

	case model.CmdPollVote:
		r.pollMu.Lock()
		if r.poll != nil {
			r.poll.Vote(sender, cmd.Text)
		}
		r.pollMu.Unlock()
		r.metrics.Votes.Add(1)
		return []Delivery{everyone(protocol.FormatVote(sender, cmd.Text))}

	case model.CmdPollResults:
		r.pollMu.Lock()
		defer r.pollMu.Unlock()
		if r.poll == nil {
			return []Delivery{toUser(sender, protocol.FormatNoPoll)}
		}
		return []Delivery{toUser(sender, protocol.FormatResults(r.poll.Question, r.poll.Tally()))}

	case model.CmdUsers:
		return []Delivery{toUser(sender, protocol.FormatUsers(r.registry.Usernames()))}

	case model.CmdFiles:
		return []Delivery{toUser(sender, r.listFiles())}

	case model.CmdFileUpload, model.CmdFileDownload:
		return []Delivery{toUser(sender, protocol.FormatUseFilePort(r.fileAddr()))}
	}
	return nil
}

func (r *Router) listFiles() string {
	if r.files == nil {
		return protocol.FormatFiles(nil)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	names, err := r.files.List(ctx)
	if err != nil {
		slog.Error("list files failed", "err", err)
		return "Could not list files."
	}
	return protocol.FormatFiles(names)
}

// Handle routes and delivers one command.
func (r *Router) Handle(sender string, cmd model.Command) {
	r.Deliver(r.Route(sender, cmd))
}

// Malformed tells sender how to use the command it got wrong.
func (r *Router) Malformed(sender string, err error) {
	r.metrics.MalformedCommands.Add(1)
	var cerr *protocol.CommandError
	text := "Invalid command."
	if errors.As(err, &cerr) {
		text = protocol.FormatUsage(cerr.Usage)
	}
	r.Deliver([]Delivery{toUser(sender, text)})
}

// Join announces a newly active user.
func (r *Router) Join(user string) {
	r.Deliver([]Delivery{everyone(protocol.FormatJoined(user))})
}

// Leave announces a departed user. Call it after the user is unregistered.
func (r *Router) Leave(user string) {
	r.Deliver([]Delivery{everyone(protocol.FormatLeft(user))})
}

// Deliver resolves each delivery against the registry and queues the text
// on every recipient. Failures never reach the sender: a stalled recipient
// is closed, which deregisters it through its own read loop.
func (r *Router) Deliver(deliveries []Delivery) {
	for _, d := range deliveries {
		switch d.To {
		case ToEveryone:
			r.events.Chat(d.Text)
			for _, sess := range r.registry.Snapshot() {
				r.send(sess, d.Text)
			}
		case ToUser:
			if sess, ok := r.registry.Lookup(d.User); ok {
				r.send(sess, d.Text)
			}
		}
	}
}

func (r *Router) send(sess *Session, text string) {
	err := sess.Send(text)
	switch {
	case err == nil:
		r.metrics.LinesDelivered.Add(1)
	case errors.Is(err, ErrSessionClosed):
		// Already leaving; its read loop handles deregistration.
	default:
		r.metrics.DeliveryFailures.Add(1)
		slog.Warn("delivery failed, disconnecting recipient",
			"user", sess.Username(), "conn_id", sess.ID(), "err", err)
		go func() { _ = sess.Close() }()
	}
}
