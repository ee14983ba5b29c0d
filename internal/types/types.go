// Package types holds the data model shared across bookrag's retrieval,
// cache, conversation, and MCP subsystems.
package types

import "time"

// Chunk is an immutable slice of a book's text and the unit of retrieval.
// id is the chunk's index within its parent book; length is a character
// count, not a byte count.
type Chunk struct {
	ID     uint32 `json:"id"`
	Text   string `json:"text"`
	Length uint32 `json:"length"`
}

// NewChunk builds a Chunk, computing Length from the rune count of text.
func NewChunk(id uint32, text string) Chunk {
	return Chunk{ID: id, Text: text, Length: uint32(len([]rune(text)))}
}

// ScoredChunk is a Chunk annotated with retrieval scores. It is kept
// separate from Chunk because Chunk itself is immutable spec data, not a
// query-time result.
type ScoredChunk struct {
	Chunk        Chunk   `json:"-"`
	ID           uint32  `json:"id"`
	Text         string  `json:"text"`
	Score        float64 `json:"score"`
	KeywordScore float64 `json:"keyword_score"`
	VectorScore  float64 `json:"vector_score"`
	Method       string  `json:"method"`
}

// BookIndex is an ordered sequence of chunks with a parallel, equal-length
// sequence of embeddings. Every embedding has the same dimension D.
type BookIndex struct {
	Chunks     []Chunk     `json:"chunks"`
	Embeddings [][]float32 `json:"embeddings"`
}

// Dimension returns the embedding width D, or 0 if the index is empty.
func (b *BookIndex) Dimension() int {
	for _, e := range b.Embeddings {
		if len(e) > 0 {
			return len(e)
		}
	}
	return 0
}

// BookMetadata describes a book's front matter. All fields are optional
// except Title, which defaults to the file's stem.
type BookMetadata struct {
	Title       string   `json:"title"`
	Authors     []string `json:"authors,omitempty"`
	Series      string   `json:"series,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Language    string   `json:"language,omitempty"`
	Publisher   string   `json:"publisher,omitempty"`
	Description string   `json:"description,omitempty"`
	Path        string   `json:"path,omitempty"`
}

// Role enumerates ChatMessage roles.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ChatMessage is a single turn in a chat_id's history.
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Summary is the compacted prefix of a conversation's history.
type Summary struct {
	Text             string    `json:"text"`
	RoundsSummarized int       `json:"rounds_summarized"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// ChatContext is the fully reconstructed history handed to a turn.
type ChatContext struct {
	Summary     *Summary      `json:"summary,omitempty"`
	Messages    []ChatMessage `json:"messages"`
	TotalRounds int           `json:"total_rounds"`
}

// TaskStatus values for Task.Status.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
)

// Session is an MCP client session. It survives a server restart via the
// session-kind's JSON file; entries older than 24h are dropped on load.
type Session struct {
	ID              string                 `json:"id"`
	CreatedAt       time.Time              `json:"created_at"`
	LastAccessAt    time.Time              `json:"last_access_at"`
	ClientInfo      map[string]interface{} `json:"client_info,omitempty"`
	ProtocolVersion string                 `json:"protocol_version"`
	SelectedBook    string                 `json:"selected_book,omitempty"`
	LogLevel        string                 `json:"log_level,omitempty"`
}

// Task is a long-running MCP job trackable via poll or cancellation.
// Completed/failed/cancelled tasks whose UpdatedAt is more than 1h old
// are dropped when the task store is loaded.
type Task struct {
	ID         string                 `json:"id"`
	Type       string                 `json:"type"`
	Status     TaskStatus             `json:"status"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
	UpdatedAt  time.Time              `json:"updated_at"`
	Result     interface{}            `json:"result,omitempty"`
}

// CacheEntry is the value half of the exact response-cache tier.
type CacheEntry struct {
	Sources []ScoredChunk `json:"sources"`
	Answer  string        `json:"answer"`
}

// SemanticIndexEntry is one row of the bounded semantic-cache index.
type SemanticIndexEntry struct {
	CacheKey  string    `json:"cache_key"`
	Embedding []float32 `json:"embedding"`
	Question  string    `json:"question"`
}
