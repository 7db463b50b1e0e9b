package forge

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

////////////////////////////////////////////////////////////////////////////////
// Persistence: Environments + Ops + Revisions in KV (JSON)
////////////////////////////////////////////////////////////////////////////////

type Store struct {
	kvEnvironments jetstream.KeyValue
	kvOps          jetstream.KeyValue
	opEvents       *opEventHub
}

// RevisionRecord captures one successful composition: which op produced it,
// what the decision was, and how noisy validation got. It is the durable
// trail behind the revisions API.
type RevisionRecord struct {
	ID             string          `json:"id"`
	EnvironmentID  string          `json:"environment_id"`
	OpID           string          `json:"op_id"`
	OpKind         OperationKind   `json:"op_kind"`
	Profile        SecurityProfile `json:"profile"`
	CustomBuild    bool            `json:"custom_build"`
	Image          string          `json:"image,omitempty"`
	Errors         int             `json:"errors"`
	Warnings       int             `json:"warnings"`
	Infos          int             `json:"infos"`
	ManifestPath   string          `json:"manifest_path,omitempty"`
	DockerfilePath string          `json:"dockerfile_path,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

type envOpsIndex struct {
	IDs       []string  `json:"ids"`
	UpdatedAt time.Time `json:"updated_at"`
}

type envRevisionIndex struct {
	IDs       []string  `json:"ids"`
	UpdatedAt time.Time `json:"updated_at"`
}

type envRevisionCurrent struct {
	ID        string    `json:"id"`
	UpdatedAt time.Time `json:"updated_at"`
}

type envOpsListQuery struct {
	Limit  int
	Cursor string
	Before string
}

type envOpsListPage struct {
	Ops        []Operation
	NextCursor string
}

type envRevisionListQuery struct {
	Limit  int
	Cursor string
}

type envRevisionListPage struct {
	Items      []RevisionRecord
	NextCursor string
}

type envOpsBackfillReport struct {
	ScannedOps          int
	RebuiltEnvs         int
	UpdatedEnvs         int
	AddedIndexEntries   int
	SkippedMalformedOps int
	SkippedMissingEnvID int
	SkippedMissingOpID  int
	SkippedReadErrors   int
	Truncated           bool
}

func newStore(ctx context.Context, js jetstream.JetStream) (*Store, error) {
	var environmentsKV jetstream.KeyValue
	err := ensureKVBucket(ctx, js, kvBucketEnvironments, defaultKVEnvironmentHistory, &environmentsKV)
	if err != nil {
		return nil, err
	}
	var opsKV jetstream.KeyValue
	err = ensureKVBucket(ctx, js, kvBucketOps, defaultKVOpsHistory, &opsKV)
	if err != nil {
		return nil, err
	}
	return &Store{
		kvEnvironments: environmentsKV,
		kvOps:          opsKV,
		opEvents:       nil,
	}, nil
}

func (s *Store) setOpEvents(hub *opEventHub) {
	if s == nil {
		return
	}
	s.opEvents = hub
}

func (s *Store) PutEnvironment(ctx context.Context, env Environment) error {
	env.UpdatedAt = time.Now().UTC()
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	_, err = s.kvEnvironments.Put(ctx, kvEnvironmentKeyPrefix+env.ID, b)
	return err
}

func (s *Store) GetEnvironment(ctx context.Context, envID string) (Environment, error) {
	e, err := s.kvEnvironments.Get(ctx, kvEnvironmentKeyPrefix+envID)
	if err != nil {
		return Environment{}, err
	}
	var env Environment
	unmarshalErr := json.Unmarshal(e.Value(), &env)
	if unmarshalErr != nil {
		return Environment{}, unmarshalErr
	}
	return env, nil
}

func (s *Store) DeleteEnvironment(ctx context.Context, envID string) error {
	return s.kvEnvironments.Delete(ctx, kvEnvironmentKeyPrefix+envID)
}

func (s *Store) ListEnvironments(ctx context.Context) ([]Environment, error) {
	keys, err := s.kvEnvironments.Keys(ctx)
	if err != nil {
		// Some KV backends can return ErrNoKeys if empty; treat as empty.
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return []Environment{}, nil
		}
		return nil, err
	}
	var out []Environment
	for _, k := range keys {
		if !strings.HasPrefix(k, kvEnvironmentKeyPrefix) {
			continue
		}
		envID := strings.TrimPrefix(k, kvEnvironmentKeyPrefix)
		env, getErr := s.GetEnvironment(ctx, envID)
		if getErr != nil {
			// best-effort listing
			continue
		}
		out = append(out, env)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) PutOp(ctx context.Context, op Operation) error {
	b, err := json.Marshal(op)
	if err != nil {
		return err
	}
	_, err = s.kvOps.Put(ctx, kvOpKeyPrefix+op.ID, b)
	if err != nil {
		return err
	}
	return s.recordEnvOp(ctx, op.EnvironmentID, op.ID)
}

func (s *Store) GetOp(ctx context.Context, opID string) (Operation, error) {
	e, err := s.kvOps.Get(ctx, kvOpKeyPrefix+opID)
	if err != nil {
		return Operation{}, err
	}
	var op Operation
	unmarshalErr := json.Unmarshal(e.Value(), &op)
	if unmarshalErr != nil {
		return Operation{}, unmarshalErr
	}
	return op, nil
}

func (s *Store) PutRevision(ctx context.Context, revision RevisionRecord) (RevisionRecord, error) {
	revision = normalizeRevisionRecord(revision)
	if revision.EnvironmentID == "" {
		return RevisionRecord{}, errors.New("environment_id required")
	}
	if revision.OpID == "" {
		return RevisionRecord{}, errors.New("op_id required")
	}
	if revision.ID == "" {
		revision.ID = newID()
	}
	if revision.CreatedAt.IsZero() {
		revision.CreatedAt = time.Now().UTC()
	} else {
		revision.CreatedAt = revision.CreatedAt.UTC()
	}

	body, err := json.Marshal(revision)
	if err != nil {
		return RevisionRecord{}, err
	}
	if _, err = s.kvOps.Put(ctx, kvRevisionKeyPrefix+revision.ID, body); err != nil {
		return RevisionRecord{}, err
	}
	if err = s.recordEnvRevision(ctx, revision.EnvironmentID, revision.ID); err != nil {
		return RevisionRecord{}, err
	}
	if err = s.writeEnvRevisionCurrent(ctx, revision.EnvironmentID, revision.ID); err != nil {
		return RevisionRecord{}, err
	}
	return revision, nil
}

func (s *Store) GetRevision(ctx context.Context, revisionID string) (RevisionRecord, error) {
	entry, err := s.kvOps.Get(ctx, kvRevisionKeyPrefix+strings.TrimSpace(revisionID))
	if err != nil {
		return RevisionRecord{}, err
	}
	var revision RevisionRecord
	if unmarshalErr := json.Unmarshal(entry.Value(), &revision); unmarshalErr != nil {
		return RevisionRecord{}, unmarshalErr
	}
	return normalizeRevisionRecord(revision), nil
}

func (s *Store) listEnvOps(
	ctx context.Context,
	envID string,
	query envOpsListQuery,
) (envOpsListPage, error) {
	envID = strings.TrimSpace(envID)
	if envID == "" {
		return envOpsListPage{Ops: []Operation{}, NextCursor: ""}, nil
	}

	limit := normalizeEnvOpsLimit(query.Limit)
	index, err := s.readEnvOpsIndex(ctx, envID)
	if err != nil {
		return envOpsListPage{}, err
	}
	if len(index.IDs) == 0 {
		return envOpsListPage{Ops: []Operation{}, NextCursor: ""}, nil
	}

	start, beforeAt := resolveEnvOpsWindow(index.IDs, query)
	if start >= len(index.IDs) {
		return envOpsListPage{Ops: []Operation{}, NextCursor: ""}, nil
	}

	return s.collectEnvOpsPage(ctx, envID, index.IDs[start:], limit, beforeAt)
}

func (s *Store) listEnvRevisions(
	ctx context.Context,
	envID string,
	query envRevisionListQuery,
) (envRevisionListPage, error) {
	envID = strings.TrimSpace(envID)
	if envID == "" {
		return envRevisionListPage{Items: []RevisionRecord{}, NextCursor: ""}, nil
	}

	limit := normalizeEnvRevisionLimit(query.Limit)
	index, err := s.readEnvRevisionIndex(ctx, envID)
	if err != nil {
		return envRevisionListPage{}, err
	}
	if len(index.IDs) == 0 {
		return envRevisionListPage{Items: []RevisionRecord{}, NextCursor: ""}, nil
	}

	start := indexStartFromCursor(index.IDs, query.Cursor)
	if start >= len(index.IDs) {
		return envRevisionListPage{Items: []RevisionRecord{}, NextCursor: ""}, nil
	}

	items := make([]RevisionRecord, 0, limit+1)
	for _, revisionID := range index.IDs[start:] {
		revision, getErr := s.GetRevision(ctx, revisionID)
		if getErr != nil {
			if errors.Is(getErr, jetstream.ErrKeyNotFound) {
				continue
			}
			return envRevisionListPage{}, getErr
		}
		if revision.EnvironmentID != envID {
			continue
		}
		items = append(items, revision)
		if len(items) > limit {
			break
		}
	}

	nextCursor := ""
	if len(items) > limit {
		items = items[:limit]
		nextCursor = strings.TrimSpace(items[len(items)-1].ID)
	}
	return envRevisionListPage{
		Items:      items,
		NextCursor: nextCursor,
	}, nil
}

func (s *Store) backfillEnvOpsIndex(
	ctx context.Context,
	maxScan int,
) (envOpsBackfillReport, error) {
	var report envOpsBackfillReport

	opsByEnv, err := s.scanEnvOpsForBackfill(
		ctx,
		normalizeEnvOpsBackfillScanLimit(maxScan),
		&report,
	)
	if err != nil {
		return report, err
	}
	if len(opsByEnv) == 0 {
		return report, nil
	}
	if rebuildErr := s.rebuildEnvOpsIndexes(ctx, opsByEnv, &report); rebuildErr != nil {
		return report, rebuildErr
	}
	return report, nil
}

func (s *Store) scanEnvOpsForBackfill(
	ctx context.Context,
	scanLimit int,
	report *envOpsBackfillReport,
) (map[string][]Operation, error) {
	keys, err := s.kvOps.Keys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return map[string][]Operation{}, nil
		}
		return nil, err
	}
	sort.Strings(keys)

	opsByEnv := make(map[string][]Operation)
	for _, key := range keys {
		if !strings.HasPrefix(key, kvOpKeyPrefix) {
			continue
		}
		if report.ScannedOps >= scanLimit {
			report.Truncated = true
			break
		}
		report.ScannedOps++

		op, ok := s.readBackfillOp(ctx, key, report)
		if !ok {
			continue
		}
		envID := strings.TrimSpace(op.EnvironmentID)
		opsByEnv[envID] = append(opsByEnv[envID], op)
	}
	return opsByEnv, nil
}

func (s *Store) readBackfillOp(
	ctx context.Context,
	key string,
	report *envOpsBackfillReport,
) (Operation, bool) {
	entry, err := s.kvOps.Get(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) || errors.Is(err, jetstream.ErrKeyDeleted) {
			return Operation{}, false
		}
		report.SkippedReadErrors++
		return Operation{}, false
	}

	var op Operation
	if unmarshalErr := json.Unmarshal(entry.Value(), &op); unmarshalErr != nil {
		report.SkippedMalformedOps++
		return Operation{}, false
	}
	if strings.TrimSpace(op.EnvironmentID) == "" {
		report.SkippedMissingEnvID++
		return Operation{}, false
	}
	if strings.TrimSpace(op.ID) == "" {
		report.SkippedMissingOpID++
		return Operation{}, false
	}
	return op, true
}

func (s *Store) rebuildEnvOpsIndexes(
	ctx context.Context,
	opsByEnv map[string][]Operation,
	report *envOpsBackfillReport,
) error {
	envIDs := make([]string, 0, len(opsByEnv))
	for envID := range opsByEnv {
		envIDs = append(envIDs, envID)
	}
	sort.Strings(envIDs)

	for _, envID := range envIDs {
		report.RebuiltEnvs++
		discoveredIDs := orderedUniqueEnvOpIDs(opsByEnv[envID])

		index, err := s.readEnvOpsIndex(ctx, envID)
		if err != nil {
			return err
		}
		mergedIDs := mergeEnvOpsIDs(discoveredIDs, index.IDs, envOpsHistoryCap)
		if slices.Equal(index.IDs, mergedIDs) {
			continue
		}

		report.AddedIndexEntries += countBackfillAddedIDs(index.IDs, mergedIDs)

		index.IDs = mergedIDs
		index.UpdatedAt = time.Now().UTC()
		if writeErr := s.writeEnvOpsIndex(ctx, envID, index); writeErr != nil {
			return writeErr
		}
		report.UpdatedEnvs++
	}
	return nil
}

func orderedUniqueEnvOpIDs(ops []Operation) []string {
	if len(ops) == 0 {
		return []string{}
	}
	sort.SliceStable(ops, func(i, j int) bool {
		leftRequested := ops[i].Requested.UTC()
		rightRequested := ops[j].Requested.UTC()
		if !leftRequested.Equal(rightRequested) {
			return leftRequested.After(rightRequested)
		}
		return strings.TrimSpace(ops[i].ID) > strings.TrimSpace(ops[j].ID)
	})

	ids := make([]string, 0, len(ops))
	seen := make(map[string]struct{}, len(ops))
	for _, op := range ops {
		opID := strings.TrimSpace(op.ID)
		if opID == "" {
			continue
		}
		if _, exists := seen[opID]; exists {
			continue
		}
		seen[opID] = struct{}{}
		ids = append(ids, opID)
	}
	return ids
}

func countBackfillAddedIDs(existing []string, merged []string) int {
	if len(merged) == 0 {
		return 0
	}
	existingSet := make(map[string]struct{}, len(existing))
	for _, opID := range existing {
		existingSet[strings.TrimSpace(opID)] = struct{}{}
	}
	added := 0
	for _, opID := range merged {
		if _, exists := existingSet[strings.TrimSpace(opID)]; exists {
			continue
		}
		added++
	}
	return added
}

func (s *Store) collectEnvOpsPage(
	ctx context.Context,
	envID string,
	opIDs []string,
	limit int,
	beforeAt time.Time,
) (envOpsListPage, error) {
	items := make([]Operation, 0, limit+1)
	for _, opID := range opIDs {
		op, getErr := s.GetOp(ctx, opID)
		if getErr != nil {
			if errors.Is(getErr, jetstream.ErrKeyNotFound) {
				continue
			}
			return envOpsListPage{}, getErr
		}
		if strings.TrimSpace(op.EnvironmentID) != envID {
			continue
		}
		if !beforeAt.IsZero() && !op.Requested.Before(beforeAt) {
			continue
		}
		items = append(items, op)
		if len(items) > limit {
			break
		}
	}

	nextCursor := ""
	if len(items) > limit {
		items = items[:limit]
		nextCursor = strings.TrimSpace(items[len(items)-1].ID)
	}
	return envOpsListPage{
		Ops:        items,
		NextCursor: nextCursor,
	}, nil
}

func resolveEnvOpsWindow(ids []string, query envOpsListQuery) (int, time.Time) {
	beforeRaw := strings.TrimSpace(query.Before)
	beforeCursor := ""
	beforeAt := time.Time{}
	if beforeRaw != "" {
		if parsed, ok := parseEnvOpsBeforeTime(beforeRaw); ok {
			beforeAt = parsed
		} else {
			beforeCursor = beforeRaw
		}
	}

	cursor := strings.TrimSpace(query.Cursor)
	start := 0
	if cursor != "" {
		start = indexStartFromCursor(ids, cursor)
	} else if beforeCursor != "" {
		start = indexStartFromCursor(ids, beforeCursor)
	}
	return start, beforeAt
}

func (s *Store) latestOpEventSequence(opID string) int64 {
	if s == nil || s.opEvents == nil {
		return 0
	}
	return s.opEvents.latestSequence(opID)
}

func normalizeEnvOpsLimit(limit int) int {
	switch {
	case limit <= 0:
		return envOpsDefaultLimit
	case limit > envOpsMaxLimit:
		return envOpsMaxLimit
	default:
		return limit
	}
}

func normalizeEnvRevisionLimit(limit int) int {
	switch {
	case limit <= 0:
		return envRevisionsDefaultLimit
	case limit > envRevisionsMaxLimit:
		return envRevisionsMaxLimit
	default:
		return limit
	}
}

func normalizeEnvOpsBackfillScanLimit(limit int) int {
	switch {
	case limit <= 0:
		return envOpsBackfillDefaultScanLimit
	case limit > envOpsBackfillMaxScanLimit:
		return envOpsBackfillMaxScanLimit
	default:
		return limit
	}
}

func mergeEnvOpsIDs(primary, secondary []string, limit int) []string {
	if limit <= 0 {
		return []string{}
	}
	capHint := min(limit, len(primary)+len(secondary))
	if capHint < 0 {
		capHint = limit
	}
	merged := make([]string, 0, capHint)
	seen := make(map[string]struct{}, capHint)

	appendFrom := func(ids []string) bool {
		for _, raw := range ids {
			opID := strings.TrimSpace(raw)
			if opID == "" {
				continue
			}
			if _, exists := seen[opID]; exists {
				continue
			}
			seen[opID] = struct{}{}
			merged = append(merged, opID)
			if len(merged) >= limit {
				return true
			}
		}
		return false
	}

	if appendFrom(primary) {
		return merged
	}
	_ = appendFrom(secondary)
	return merged
}

func normalizeRevisionRecord(in RevisionRecord) RevisionRecord {
	revision := in
	revision.ID = strings.TrimSpace(revision.ID)
	revision.EnvironmentID = strings.TrimSpace(revision.EnvironmentID)
	revision.OpID = strings.TrimSpace(revision.OpID)
	revision.Image = strings.TrimSpace(revision.Image)
	revision.ManifestPath = strings.Trim(strings.TrimSpace(revision.ManifestPath), "/")
	revision.DockerfilePath = strings.Trim(strings.TrimSpace(revision.DockerfilePath), "/")
	if revision.OpKind == "" {
		revision.OpKind = OpSynthesize
	}
	return revision
}

func parseEnvOpsBeforeTime(raw string) (time.Time, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return time.Time{}, false
	}
	if ts, err := time.Parse(time.RFC3339Nano, trimmed); err == nil {
		return ts.UTC(), true
	}
	if ts, err := time.Parse(time.RFC3339, trimmed); err == nil {
		return ts.UTC(), true
	}
	return time.Time{}, false
}

func indexStartFromCursor(ids []string, cursor string) int {
	cursor = strings.TrimSpace(cursor)
	if cursor == "" {
		return 0
	}
	for idx, id := range ids {
		if id == cursor {
			return idx + 1
		}
	}
	return len(ids)
}

func (s *Store) recordEnvOp(ctx context.Context, envID, opID string) error {
	envID = strings.TrimSpace(envID)
	opID = strings.TrimSpace(opID)
	if envID == "" || opID == "" {
		return nil
	}

	index, err := s.readEnvOpsIndex(ctx, envID)
	if err != nil {
		return err
	}

	if slices.Contains(index.IDs, opID) {
		index.UpdatedAt = time.Now().UTC()
		return s.writeEnvOpsIndex(ctx, envID, index)
	}

	index.IDs = append([]string{opID}, index.IDs...)
	if len(index.IDs) > envOpsHistoryCap {
		index.IDs = append([]string(nil), index.IDs[:envOpsHistoryCap]...)
	}
	index.UpdatedAt = time.Now().UTC()
	return s.writeEnvOpsIndex(ctx, envID, index)
}

func (s *Store) recordEnvRevision(ctx context.Context, envID, revisionID string) error {
	envID = strings.TrimSpace(envID)
	revisionID = strings.TrimSpace(revisionID)
	if envID == "" || revisionID == "" {
		return nil
	}

	index, err := s.readEnvRevisionIndex(ctx, envID)
	if err != nil {
		return err
	}
	if slices.Contains(index.IDs, revisionID) {
		index.UpdatedAt = time.Now().UTC()
		return s.writeEnvRevisionIndex(ctx, envID, index)
	}

	index.IDs = append([]string{revisionID}, index.IDs...)
	if len(index.IDs) > envRevisionsHistoryCap {
		index.IDs = append([]string(nil), index.IDs[:envRevisionsHistoryCap]...)
	}
	index.UpdatedAt = time.Now().UTC()
	return s.writeEnvRevisionIndex(ctx, envID, index)
}

func (s *Store) readEnvOpsIndex(ctx context.Context, envID string) (envOpsIndex, error) {
	entry, err := s.kvOps.Get(ctx, envOpsIndexKey(envID))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return envOpsIndex{
				IDs:       []string{},
				UpdatedAt: time.Time{},
			}, nil
		}
		return envOpsIndex{}, err
	}
	var index envOpsIndex
	if unmarshalErr := json.Unmarshal(entry.Value(), &index); unmarshalErr != nil {
		return envOpsIndex{}, unmarshalErr
	}
	if index.IDs == nil {
		index.IDs = []string{}
	}
	return index, nil
}

func (s *Store) writeEnvOpsIndex(ctx context.Context, envID string, index envOpsIndex) error {
	body, err := json.Marshal(index)
	if err != nil {
		return err
	}
	_, err = s.kvOps.Put(ctx, envOpsIndexKey(envID), body)
	return err
}

func (s *Store) readEnvRevisionIndex(ctx context.Context, envID string) (envRevisionIndex, error) {
	entry, err := s.kvOps.Get(ctx, envRevisionIndexKey(envID))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return envRevisionIndex{
				IDs:       []string{},
				UpdatedAt: time.Time{},
			}, nil
		}
		return envRevisionIndex{}, err
	}
	var index envRevisionIndex
	if unmarshalErr := json.Unmarshal(entry.Value(), &index); unmarshalErr != nil {
		return envRevisionIndex{}, unmarshalErr
	}
	if index.IDs == nil {
		index.IDs = []string{}
	}
	return index, nil
}

func (s *Store) writeEnvRevisionIndex(ctx context.Context, envID string, index envRevisionIndex) error {
	body, err := json.Marshal(index)
	if err != nil {
		return err
	}
	_, err = s.kvOps.Put(ctx, envRevisionIndexKey(envID), body)
	return err
}

func (s *Store) readEnvRevisionCurrent(ctx context.Context, envID string) (envRevisionCurrent, bool, error) {
	entry, err := s.kvOps.Get(ctx, envRevisionCurrentKey(envID))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return envRevisionCurrent{}, false, nil
		}
		return envRevisionCurrent{}, false, err
	}
	var current envRevisionCurrent
	if unmarshalErr := json.Unmarshal(entry.Value(), &current); unmarshalErr != nil {
		return envRevisionCurrent{}, false, unmarshalErr
	}
	current.ID = strings.TrimSpace(current.ID)
	if current.ID == "" {
		return envRevisionCurrent{}, false, nil
	}
	return current, true, nil
}

func (s *Store) writeEnvRevisionCurrent(ctx context.Context, envID string, revisionID string) error {
	current := envRevisionCurrent{
		ID:        strings.TrimSpace(revisionID),
		UpdatedAt: time.Now().UTC(),
	}
	body, err := json.Marshal(current)
	if err != nil {
		return err
	}
	_, err = s.kvOps.Put(ctx, envRevisionCurrentKey(envID), body)
	return err
}

func (s *Store) getEnvCurrentRevision(ctx context.Context, envID string) (RevisionRecord, bool, error) {
	current, ok, err := s.readEnvRevisionCurrent(ctx, envID)
	if err != nil || !ok {
		return RevisionRecord{}, false, err
	}
	revision, err := s.GetRevision(ctx, current.ID)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return RevisionRecord{}, false, nil
		}
		return RevisionRecord{}, false, err
	}
	if revision.EnvironmentID != strings.TrimSpace(envID) {
		return RevisionRecord{}, false, nil
	}
	return revision, true, nil
}

func envOpsIndexKey(envID string) string {
	return kvEnvOpsIndexKeyPrefix + strings.TrimSpace(envID)
}

func envRevisionIndexKey(envID string) string {
	return kvEnvRevisionIndexKeyPrefix + strings.TrimSpace(envID)
}

func envRevisionCurrentKey(envID string) string {
	return kvEnvRevisionCurrentKeyPrefix + strings.TrimSpace(envID)
}
