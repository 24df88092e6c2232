package redis

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/rueidis"

	"github.com/atelier-labs/corpusd/internal/domain"
	"github.com/atelier-labs/corpusd/internal/index"
)

var searchReturnFields = []string{
	fieldDocHash, fieldOrdinal, fieldText, fieldSource, fieldDocType,
	fieldHeadingPath, fieldPage, fieldCharStart, fieldCharEnd,
	"__vector_score",
}

// Search runs a KNN query via FT.SEARCH and returns chunks ordered by
// descending similarity. A store whose FT index does not exist yet is
// an empty knowledge base, not an error.
func (s *Store) Search(ctx context.Context, vector []float32, k int) ([]domain.ScoredChunk, error) {
	if len(vector) == 0 {
		return nil, fmt.Errorf("vector is required")
	}
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive")
	}

	queryStr := fmt.Sprintf("*=>[KNN %d @%s $BLOB]", k, fieldVector)

	args := []string{s.indexName, queryStr,
		"RETURN", strconv.Itoa(len(searchReturnFields))}
	args = append(args, searchReturnFields...)
	args = append(args,
		"SORTBY", "__vector_score",
		"PARAMS", "2", "BLOB", vectorToBytes(vector),
		"DIALECT", "2",
	)

	cmd := s.b().Arbitrary("FT.SEARCH").Args(args...).Build()
	raw, err := s.do(ctx, cmd).ToArray()
	if err != nil {
		if isRedisErr(err, "no such index") || isRedisErr(err, "unknown index name") {
			return []domain.ScoredChunk{}, nil
		}
		return nil, &index.Error{Op: index.OpSearch, Err: err}
	}

	return parseKNNResult(raw)
}

func parseKNNResult(raw []rueidis.RedisMessage) ([]domain.ScoredChunk, error) {
	if len(raw) == 0 {
		return []domain.ScoredChunk{}, nil
	}

	total, err := raw[0].AsInt64()
	if err != nil {
		return nil, fmt.Errorf("parse total: %w", err)
	}
	if total == 0 {
		return []domain.ScoredChunk{}, nil
	}

	out := make([]domain.ScoredChunk, 0, total)
	// 2-stride: [total, key1, fields1, key2, fields2, ...]
	for i := 1; i+1 < len(raw); i += 2 {
		if _, err := raw[i].ToString(); err != nil {
			continue
		}
		fieldMsgs, err := raw[i+1].ToArray()
		if err != nil {
			continue
		}
		fields := parseFieldPairs(fieldMsgs)

		sc := domain.ScoredChunk{Chunk: chunkFromFields(fields)}
		if scoreStr, ok := fields["__vector_score"]; ok {
			if dist, err := strconv.ParseFloat(scoreStr, 64); err == nil {
				sc.Score = max(0, 1.0-dist) // cosine distance → similarity, clamped to [0,1]
			}
		}
		out = append(out, sc)
	}
	return out, nil
}

func chunkFromFields(fields map[string]string) domain.Chunk {
	ordinal, _ := strconv.Atoi(fields[fieldOrdinal])
	page, _ := strconv.Atoi(fields[fieldPage])
	charStart, _ := strconv.Atoi(fields[fieldCharStart])
	charEnd, _ := strconv.Atoi(fields[fieldCharEnd])

	return domain.Chunk{
		DocumentHash: fields[fieldDocHash],
		Ordinal:      ordinal,
		Text:         fields[fieldText],
		Source:       fields[fieldSource],
		DocType:      domain.DocType(fields[fieldDocType]),
		HeadingPath:  fields[fieldHeadingPath],
		Page:         page,
		CharStart:    charStart,
		CharEnd:      charEnd,
	}
}

func parseFieldPairs(fields []rueidis.RedisMessage) map[string]string {
	m := make(map[string]string, len(fields)/2)
	for j := 0; j+1 < len(fields); j += 2 {
		name, err := fields[j].ToString()
		if err != nil {
			continue
		}
		value, err := fields[j+1].ToString()
		if err != nil {
			continue
		}
		m[name] = value
	}
	return m
}
