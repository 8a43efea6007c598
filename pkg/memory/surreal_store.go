package memory

import (
	"context"
	"encoding/json"
	"fmt"

	"bondengine/pkg/bond"
	"bondengine/pkg/surreal"

	"go.uber.org/zap"
)

const surrealTable = "bond_profiles"

type SurrealStore struct {
	client *surreal.Client
	logger *zap.Logger
}

func NewSurrealStore(ctx context.Context, client *surreal.Client, logger *zap.Logger) *SurrealStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	store := &SurrealStore{
		client: client,
		logger: logger,
	}
	if err := store.Init(ctx); err != nil {
		// Don't fail startup, the schema may already exist or the DB come back later
		logger.Warn("failed to initialize SurrealDB schema", zap.Error(err))
	}
	return store
}

func (s *SurrealStore) Init(ctx context.Context) error {
	query := `
		DEFINE TABLE IF NOT EXISTS bond_profiles SCHEMAFULL;
		DEFINE FIELD IF NOT EXISTS user_id ON bond_profiles TYPE string;
		DEFINE FIELD IF NOT EXISTS persona_id ON bond_profiles TYPE string;
		DEFINE FIELD IF NOT EXISTS profile ON bond_profiles TYPE string;
		DEFINE FIELD IF NOT EXISTS bond ON bond_profiles TYPE string;
		DEFINE FIELD IF NOT EXISTS updated_at ON bond_profiles TYPE int;
		DEFINE INDEX IF NOT EXISTS pair_idx ON bond_profiles FIELDS user_id, persona_id UNIQUE;
	`
	_, err := s.client.Query(ctx, query, nil)
	return err
}

// recordID is an array id, so no user or persona id can collide with another pair.
func recordID(key Key) []string {
	return []string{key.UserID, key.PersonaID}
}

func (s *SurrealStore) Load(ctx context.Context, key Key) (*Record, error) {
	rows, err := s.client.SelectWhere(ctx, surrealTable, []string{"profile", "bond"}, map[string]interface{}{
		"user_id":    key.UserID,
		"persona_id": key.PersonaID,
	})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	profileJSON, _ := rows[0]["profile"].(string)
	bondJSON, _ := rows[0]["bond"].(string)
	return decodeColumns(key, profileJSON, bondJSON)
}

func (s *SurrealStore) Save(ctx context.Context, rec *Record) error {
	profileJSON, bondJSON, err := encodeColumns(rec)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO bond_profiles (id, user_id, persona_id, profile, bond, updated_at)
		VALUES (type::thing("bond_profiles", $record_id), $user_id, $persona_id, $profile, $bond, time::unix())
		ON DUPLICATE KEY UPDATE profile = $profile, bond = $bond, updated_at = time::unix();
	`
	_, err = s.client.Query(ctx, query, map[string]interface{}{
		"record_id":  recordID(rec.Key),
		"user_id":    rec.Key.UserID,
		"persona_id": rec.Key.PersonaID,
		"profile":    profileJSON,
		"bond":       bondJSON,
	})
	return err
}

func (s *SurrealStore) Pairs(ctx context.Context) ([]Key, error) {
	rows, err := s.client.SelectWhere(ctx, surrealTable, []string{"user_id", "persona_id"}, nil)
	if err != nil {
		return nil, err
	}

	keys := make([]Key, 0, len(rows))
	for _, row := range rows {
		userID, _ := row["user_id"].(string)
		personaID, _ := row["persona_id"].(string)
		if userID == "" || personaID == "" {
			continue
		}
		keys = append(keys, Key{UserID: userID, PersonaID: personaID})
	}
	sortKeys(keys)
	return keys, nil
}

// Delete removes a pair for good. Used by data-deletion requests, never by the engine.
func (s *SurrealStore) Delete(ctx context.Context, key Key) error {
	query := `DELETE type::thing("bond_profiles", $record_id);`
	_, err := s.client.Query(ctx, query, map[string]interface{}{"record_id": recordID(key)})
	return err
}

func encodeColumns(rec *Record) (string, string, error) {
	profileJSON, err := json.Marshal(rec.Profile)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal profile %s: %w", rec.Key, err)
	}
	bondJSON, err := json.Marshal(rec.Bond)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal bond %s: %w", rec.Key, err)
	}
	return string(profileJSON), string(bondJSON), nil
}

func decodeColumns(key Key, profileJSON, bondJSON string) (*Record, error) {
	rec := &Record{Key: key}
	if profileJSON != "" {
		var p Profile
		if err := json.Unmarshal([]byte(profileJSON), &p); err != nil {
			return nil, fmt.Errorf("failed to unmarshal profile %s: %w", key, err)
		}
		rec.Profile = &p
	}
	if bondJSON != "" {
		var b bond.State
		if err := json.Unmarshal([]byte(bondJSON), &b); err != nil {
			return nil, fmt.Errorf("failed to unmarshal bond %s: %w", key, err)
		}
		rec.Bond = b
	}
	if rec.Profile == nil {
		rec.Profile = NewProfile(key.UserID, key.PersonaID, rec.Bond.CreatedAt)
	}
	rec.Profile.ensureMaps()
	return rec, nil
}
