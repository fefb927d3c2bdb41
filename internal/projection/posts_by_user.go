package projection

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"

	"github.com/jmehdipour/messageboard/internal/board"
	"github.com/jmehdipour/messageboard/internal/model"
	"go.uber.org/zap"
)

const PostsByUserIndexName = "posts_by_user_index"

// PostKey identifies a message across boards.
type PostKey struct {
	BoardID   string `json:"board_id"`
	MessageID int64  `json:"message_id"`
}

func (k PostKey) String() string {
	return k.BoardID + "/" + strconv.FormatInt(k.MessageID, 10)
}

// MarshalText lets PostKey be used as a JSON object key.
func (k PostKey) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *PostKey) UnmarshalText(b []byte) error {
	i := bytes.LastIndexByte(b, '/')
	if i <= 0 {
		return fmt.Errorf("invalid post key %q", b)
	}
	id, err := strconv.ParseInt(string(b[i+1:]), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid post key %q: %w", b, err)
	}
	k.BoardID = string(b[:i])
	k.MessageID = id
	return nil
}

// PostsByUserState maps authors to their published posts. Posts that need
// moderation wait in AwaitingModeration, keyed to their author.
type PostsByUserState struct {
	Posts              map[string]map[PostKey]struct{} `json:"posts"`
	AwaitingModeration map[PostKey]string              `json:"awaiting_moderation"`
}

func NewPostsByUserState() *PostsByUserState {
	return &PostsByUserState{
		Posts:              make(map[string]map[PostKey]struct{}),
		AwaitingModeration: make(map[PostKey]string),
	}
}

func (s *PostsByUserState) Clone() *PostsByUserState {
	c := NewPostsByUserState()
	for user, keys := range s.Posts {
		set := make(map[PostKey]struct{}, len(keys))
		for k := range keys {
			set[k] = struct{}{}
		}
		c.Posts[user] = set
	}
	for k, author := range s.AwaitingModeration {
		c.AwaitingModeration[k] = author
	}
	return c
}

func (s *PostsByUserState) add(userID string, key PostKey) {
	set, ok := s.Posts[userID]
	if !ok {
		set = make(map[PostKey]struct{})
		s.Posts[userID] = set
	}
	set[key] = struct{}{}
}

func postsByUserRoutes() []Route[*PostsByUserState] {
	return []Route[*PostsByUserState]{
		{Type: board.TypeMessagePosted, Handle: indexMessagePosted},
		{Type: board.TypeMessageApproved, Handle: indexMessageApproved},
		{Type: board.TypeMessageRejected, Handle: indexMessageRejected},
	}
}

func indexMessagePosted(s *PostsByUserState, ev model.Event) error {
	e, err := decode[board.MessagePosted](ev)
	if err != nil {
		return err
	}
	key := PostKey{BoardID: ev.OriginatorID, MessageID: e.MessageID}
	if e.RequiresModeration {
		s.AwaitingModeration[key] = e.AuthorID
		return nil
	}
	s.add(e.AuthorID, key)
	return nil
}

// A key missing from AwaitingModeration was already moved by an earlier
// application of the same event.
func indexMessageApproved(s *PostsByUserState, ev model.Event) error {
	e, err := decode[board.MessageApproved](ev)
	if err != nil {
		return err
	}
	key := PostKey{BoardID: ev.OriginatorID, MessageID: e.MessageID}
	author, ok := s.AwaitingModeration[key]
	if !ok {
		return nil
	}
	delete(s.AwaitingModeration, key)
	s.add(author, key)
	return nil
}

func indexMessageRejected(s *PostsByUserState, ev model.Event) error {
	e, err := decode[board.MessageRejected](ev)
	if err != nil {
		return err
	}
	delete(s.AwaitingModeration, PostKey{BoardID: ev.OriginatorID, MessageID: e.MessageID})
	return nil
}

type Options struct {
	// Name overrides the checkpoint name, e.g. to run a second copy.
	Name      string
	BatchSize int
	Logger    *zap.Logger
}

// PostsByUserIndex answers which published posts a user has written.
type PostsByUserIndex struct {
	*Runner[*PostsByUserState]
}

func NewPostsByUserIndex(source Source, store CheckpointStore, opts Options) (*PostsByUserIndex, error) {
	name := opts.Name
	if name == "" {
		name = PostsByUserIndexName
	}
	r, err := NewRunner(Config[*PostsByUserState]{
		Name:      name,
		Source:    source,
		Store:     store,
		Routes:    postsByUserRoutes(),
		NewState:  NewPostsByUserState,
		BatchSize: opts.BatchSize,
		Logger:    opts.Logger,
	})
	if err != nil {
		return nil, err
	}
	return &PostsByUserIndex{Runner: r}, nil
}

// PostsForUser returns the user's published posts ordered by board then
// message id. Pending and rejected posts are not included.
func (p *PostsByUserIndex) PostsForUser(userID string) []PostKey {
	var out []PostKey
	p.View(func(s *PostsByUserState) {
		out = make([]PostKey, 0, len(s.Posts[userID]))
		for k := range s.Posts[userID] {
			out = append(out, k)
		}
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].BoardID != out[j].BoardID {
			return out[i].BoardID < out[j].BoardID
		}
		return out[i].MessageID < out[j].MessageID
	})
	return out
}
