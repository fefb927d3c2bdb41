package projection

import (
	"fmt"

	"github.com/jmehdipour/messageboard/internal/board"
	"github.com/jmehdipour/messageboard/internal/model"
)

const PostRepositoryName = "post_repository"

// Post is a message with its replies resolved.
type Post struct {
	BoardID   string `json:"board_id"`
	MessageID int64  `json:"message_id"`
	Text      string `json:"text"`
	Author    string `json:"author"`
	Published bool   `json:"published"`
	ReplyTo   *int64 `json:"reply_to,omitempty"`
	Replies   []Post `json:"replies"`
}

type postRecord struct {
	Text      string  `json:"text"`
	Author    string  `json:"author"`
	Published bool    `json:"published"`
	ReplyTo   *int64  `json:"reply_to,omitempty"`
	Replies   []int64 `json:"replies,omitempty"`
}

// PostsState holds every post by board and message id. Replies are stored
// as ids in posting order.
type PostsState struct {
	Boards map[string]map[int64]*postRecord `json:"boards"`
}

func NewPostsState() *PostsState {
	return &PostsState{Boards: make(map[string]map[int64]*postRecord)}
}

func (s *PostsState) Clone() *PostsState {
	c := NewPostsState()
	for boardID, posts := range s.Boards {
		m := make(map[int64]*postRecord, len(posts))
		for id, rec := range posts {
			cp := *rec
			if rec.ReplyTo != nil {
				parent := *rec.ReplyTo
				cp.ReplyTo = &parent
			}
			cp.Replies = append([]int64(nil), rec.Replies...)
			m[id] = &cp
		}
		c.Boards[boardID] = m
	}
	return c
}

func (s *PostsState) lookup(boardID string, id int64) *postRecord {
	return s.Boards[boardID][id]
}

func postRoutes() []Route[*PostsState] {
	return []Route[*PostsState]{
		{Type: board.TypeMessagePosted, Handle: storeMessagePosted},
		{Type: board.TypeMessageApproved, Handle: storeMessageApproved},
	}
}

func storeMessagePosted(s *PostsState, ev model.Event) error {
	e, err := decode[board.MessagePosted](ev)
	if err != nil {
		return err
	}
	posts, ok := s.Boards[ev.OriginatorID]
	if !ok {
		posts = make(map[int64]*postRecord)
		s.Boards[ev.OriginatorID] = posts
	}
	if _, seen := posts[e.MessageID]; seen {
		return nil
	}

	rec := &postRecord{
		Text:      e.Text,
		Author:    e.AuthorID,
		Published: !e.RequiresModeration,
	}
	if e.ReplyTo != nil {
		parent, ok := posts[*e.ReplyTo]
		if !ok {
			return fmt.Errorf("%w: reply %s/%d to unknown message %d", model.ErrIntegrity, ev.OriginatorID, e.MessageID, *e.ReplyTo)
		}
		parent.Replies = append(parent.Replies, e.MessageID)
		to := *e.ReplyTo
		rec.ReplyTo = &to
	}
	posts[e.MessageID] = rec
	return nil
}

func storeMessageApproved(s *PostsState, ev model.Event) error {
	e, err := decode[board.MessageApproved](ev)
	if err != nil {
		return err
	}
	rec := s.lookup(ev.OriginatorID, e.MessageID)
	if rec == nil {
		return fmt.Errorf("%w: approved unknown message %s/%d", model.ErrIntegrity, ev.OriginatorID, e.MessageID)
	}
	rec.Published = true
	return nil
}

// PostRepository answers message lookups with their reply threads.
type PostRepository struct {
	*Runner[*PostsState]
}

func NewPostRepository(source Source, store CheckpointStore, opts Options) (*PostRepository, error) {
	name := opts.Name
	if name == "" {
		name = PostRepositoryName
	}
	r, err := NewRunner(Config[*PostsState]{
		Name:      name,
		Source:    source,
		Store:     store,
		Routes:    postRoutes(),
		NewState:  NewPostsState,
		BatchSize: opts.BatchSize,
		Logger:    opts.Logger,
	})
	if err != nil {
		return nil, err
	}
	return &PostRepository{Runner: r}, nil
}

// Post returns the message and, recursively, its replies. Rejected and
// pending messages are returned with Published false.
func (p *PostRepository) Post(boardID string, messageID int64) (Post, bool) {
	var (
		out Post
		ok  bool
	)
	p.View(func(s *PostsState) {
		if s.lookup(boardID, messageID) == nil {
			return
		}
		out, ok = s.resolve(boardID, messageID), true
	})
	return out, ok
}

// resolve terminates because a reply always has a higher id than its parent.
func (s *PostsState) resolve(boardID string, id int64) Post {
	rec := s.lookup(boardID, id)
	post := Post{
		BoardID:   boardID,
		MessageID: id,
		Text:      rec.Text,
		Author:    rec.Author,
		Published: rec.Published,
		Replies:   make([]Post, 0, len(rec.Replies)),
	}
	if rec.ReplyTo != nil {
		to := *rec.ReplyTo
		post.ReplyTo = &to
	}
	for _, child := range rec.Replies {
		if s.lookup(boardID, child) == nil {
			continue
		}
		post.Replies = append(post.Replies, s.resolve(boardID, child))
	}
	return post
}
