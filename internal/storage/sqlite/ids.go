package sqlite

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/astrotask/astrotask/internal/storage"
	"github.com/astrotask/astrotask/internal/types"
)

// base26Alphabet is the character set for generated ID segments. Canonical
// IDs are uppercase-letter segments joined by dashes.
const base26Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// defaultSegmentLen is the starting segment length; collisions grow it.
const defaultSegmentLen = 4

// maxSegmentLen caps collision-driven growth.
const maxSegmentLen = 10

// encodeBase26 converts a byte slice to an uppercase-letter string of the
// given length, padding with 'A' and keeping the least significant digits
// on overflow.
func encodeBase26(data []byte, length int) string {
	num := new(big.Int).SetBytes(data)
	base := big.NewInt(26)
	zero := big.NewInt(0)
	mod := new(big.Int)

	chars := make([]byte, 0, length)
	for num.Cmp(zero) > 0 {
		num.DivMod(num, base, mod)
		chars = append(chars, base26Alphabet[mod.Int64()])
	}

	var b strings.Builder
	for i := len(chars) - 1; i >= 0; i-- {
		b.WriteByte(chars[i])
	}
	s := b.String()
	if len(s) < length {
		s = strings.Repeat("A", length-len(s)) + s
	}
	if len(s) > length {
		s = s[len(s)-length:]
	}
	return s
}

// hashSegment derives an ID segment from task content. The nonce
// disambiguates collision retries.
func hashSegment(title, parentID string, ts time.Time, length, nonce int) string {
	content := fmt.Sprintf("%s|%s|%d|%d", title, parentID, ts.UnixNano(), nonce)
	hash := sha256.Sum256([]byte(content))
	// 5 bytes = 40 bits, enough entropy for up to 8 base26 chars
	numBytes := 5
	if length > 8 {
		numBytes = 7
	}
	return encodeBase26(hash[:numBytes], length)
}

// querier abstracts *sql.DB, *sql.Tx and *sql.Conn for read helpers.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// generateTaskID mints a canonical ID for a task under parentID, probing the
// tasks table for collisions. Children of the project root get a bare
// segment; deeper tasks get their parent's ID plus a segment.
func generateTaskID(ctx context.Context, q querier, parentID, title string) (string, error) {
	prefix := ""
	if parentID != types.ProjectRootID {
		prefix = parentID + "-"
	}
	now := time.Now()
	for length := defaultSegmentLen; length <= maxSegmentLen; length++ {
		for nonce := 0; nonce < 8; nonce++ {
			id := prefix + hashSegment(title, parentID, now, length, nonce)
			taken, err := taskIDExists(ctx, q, id)
			if err != nil {
				return "", err
			}
			if !taken {
				return id, nil
			}
		}
	}
	return "", fmt.Errorf("%w: failed to generate unique task id under %s", storage.ErrStorage, parentID)
}

func taskIDExists(ctx context.Context, q querier, id string) (bool, error) {
	var one int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM tasks WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, wrapDBError("check task id", err)
	}
	return true, nil
}
