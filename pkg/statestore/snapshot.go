package statestore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/jhgg/discordstate/pkg/feed"
	"github.com/jhgg/discordstate/pkg/snowflake"
	"github.com/jhgg/discordstate/pkg/state"
)

// Save writes a point-in-time snapshot of the registry and returns its
// metadata. The snapshot id is sortable by creation time, so Latest works
// even within one clock tick.
func (s *Store) Save(ctx context.Context, r *state.Registry) (*Snapshot, error) {
	snap := &Snapshot{ID: xid.New().String(), CreatedAt: time.Now().UTC()}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("statestore: save: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, srv := range r.Servers() {
		if err := s.saveServer(ctx, tx, snap, srv); err != nil {
			return nil, err
		}
		snap.Servers++
	}
	for _, c := range r.Channels() {
		if !c.IsPrivate() {
			continue
		}
		if err := s.saveChannel(ctx, tx, snap.ID, c); err != nil {
			return nil, err
		}
		snap.Channels++
	}
	for _, u := range r.Users() {
		if err := s.saveUser(ctx, tx, snap.ID, u); err != nil {
			return nil, err
		}
		snap.Users++
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO snapshots (id, created_at, servers, users, channels, roles) VALUES (?, ?, ?, ?, ?, ?)",
		snap.ID, formatDBTime(snap.CreatedAt), snap.Servers, snap.Users, snap.Channels, snap.Roles)
	if err != nil {
		return nil, fmt.Errorf("statestore: save snapshot row: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("statestore: save: %w", err)
	}
	return snap, nil
}

func (s *Store) saveServer(ctx context.Context, tx *sql.Tx, snap *Snapshot, srv *state.Server) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO servers (snapshot_id, id, name, owner_id, region, icon, afk_channel_id, afk_timeout)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		snap.ID, int64(srv.ID()), srv.Name(), int64(srv.OwnerID()), srv.Region(), srv.Icon(),
		int64(srv.AFKChannelID()), srv.AFKTimeout())
	if err != nil {
		return fmt.Errorf("statestore: save server %d: %w", srv.ID(), err)
	}
	for _, role := range srv.Roles() {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO roles (snapshot_id, id, server_id, name, permissions, hoist, color, position)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			snap.ID, int64(role.ID()), int64(srv.ID()), role.Name(), int64(role.Permissions().Raw()),
			role.Hoist(), int64(role.Color()), role.Position())
		if err != nil {
			return fmt.Errorf("statestore: save role %d: %w", role.ID(), err)
		}
		snap.Roles++
	}
	for _, c := range srv.Channels() {
		if err := s.saveChannel(ctx, tx, snap.ID, c); err != nil {
			return err
		}
		snap.Channels++
	}
	return nil
}

func (s *Store) saveChannel(ctx context.Context, tx *sql.Tx, snapID string, c *state.Channel) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO channels (snapshot_id, id, server_id, kind, name, topic, position, recipient_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		snapID, int64(c.ID()), int64(c.ServerID()), c.Kind(), c.Name(), c.Topic(), c.Position(),
		int64(c.RecipientID()))
	if err != nil {
		return fmt.Errorf("statestore: save channel %d: %w", c.ID(), err)
	}
	for i, ow := range c.Overwrites() {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO overwrites (snapshot_id, channel_id, position, target_id, type, allow, deny)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			snapID, int64(c.ID()), i, int64(ow.TargetID), ow.Type, int64(ow.Allow), int64(ow.Deny))
		if err != nil {
			return fmt.Errorf("statestore: save overwrite %d/%d: %w", c.ID(), i, err)
		}
	}
	return nil
}

func (s *Store) saveUser(ctx context.Context, tx *sql.Tx, snapID string, u *state.User) error {
	var joinedAt, lastActivity, lastOnline any
	if t, ok := u.JoinedAt(); ok {
		joinedAt = formatDBTime(t)
	}
	if t, ok := u.LastActivity(); ok {
		lastActivity = formatDBTime(t)
	}
	if t, ok := u.LastOnline(); ok {
		lastOnline = formatDBTime(t)
	}
	var gameID any
	if g, ok := u.GameID(); ok {
		gameID = g
	}

	sessionSealed, err := s.sealCredential(u.SessionID())
	if err != nil {
		return fmt.Errorf("statestore: seal session for %s: %w", u.Key(), err)
	}
	tokenSealed, err := s.sealCredential(u.Token())
	if err != nil {
		return fmt.Errorf("statestore: seal token for %s: %w", u.Key(), err)
	}

	key := u.Key()
	_, err = tx.ExecContext(ctx,
		`INSERT INTO users (snapshot_id, server_id, user_id, name, discriminator, avatar,
		   joined_at, status, game_id, last_activity, last_online, voice_channel_id,
		   session_sealed, token_sealed, self_mute, self_deaf, server_mute, server_deaf, suppress)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		snapID, int64(key.ServerID), int64(key.UserID), u.Name(), u.Discriminator(), u.Avatar(),
		joinedAt, string(u.Status()), gameID, lastActivity, lastOnline, int64(u.VoiceChannelID()),
		sessionSealed, tokenSealed,
		u.IsSelfMuted(), u.IsSelfDeafened(), u.IsServerMuted(), u.IsServerDeafened(), u.IsSuppressed())
	if err != nil {
		return fmt.Errorf("statestore: save user %s: %w", key, err)
	}

	for _, role := range u.Roles() {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO user_roles (snapshot_id, server_id, user_id, role_id) VALUES (?, ?, ?, ?)",
			snapID, int64(key.ServerID), int64(key.UserID), int64(role.ID()))
		if err != nil {
			return fmt.Errorf("statestore: save user role %s/%d: %w", key, role.ID(), err)
		}
	}
	return nil
}

func (s *Store) sealCredential(v string) ([]byte, error) {
	if v == "" || s.sealer == nil {
		return nil, nil
	}
	return s.sealer.Seal([]byte(v))
}

func (s *Store) openCredential(sealed []byte) (string, error) {
	if len(sealed) == 0 || s.sealer == nil {
		return "", nil
	}
	plain, err := s.sealer.Open(sealed)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

// Load replays snapshot id into r by synthesizing update events, so the
// loaded graph goes through the same resolution passes as a live sync.
// An empty id loads the latest snapshot. Loading into a non-empty registry
// is the caller's mistake; rows merge with whatever state exists.
func (s *Store) Load(ctx context.Context, id string, r *state.Registry) error {
	if id == "" {
		latest, err := s.Latest(ctx)
		if err != nil {
			return err
		}
		if latest == nil {
			return fmt.Errorf("statestore: load: no snapshots")
		}
		id = latest.ID
	}

	servers, err := s.loadServers(ctx, id)
	if err != nil {
		return err
	}
	if err := s.loadRoles(ctx, id, servers); err != nil {
		return err
	}
	privateChannels, err := s.loadChannels(ctx, id, servers)
	if err != nil {
		return err
	}
	globals, fixups, err := s.loadUsers(ctx, id, servers)
	if err != nil {
		return err
	}

	for _, rec := range servers {
		if err := r.Apply(&feed.Event{ServerCreate: rec}); err != nil {
			return fmt.Errorf("statestore: load server %d: %w", rec.ID, err)
		}
	}
	for _, rec := range globals {
		if err := r.Apply(&feed.Event{UserUpdate: rec}); err != nil {
			return fmt.Errorf("statestore: load user %d: %w", rec.ID, err)
		}
	}
	for _, rec := range privateChannels {
		if err := r.Apply(&feed.Event{ChannelCreate: rec}); err != nil {
			return fmt.Errorf("statestore: load channel %d: %w", rec.ID, err)
		}
	}

	// Timestamps have no update record; they land directly on the loaded
	// instances.
	for _, fx := range fixups {
		u := r.User(fx.key)
		if u == nil {
			continue
		}
		if !fx.lastActivity.IsZero() {
			u.UpdateActivity(fx.lastActivity)
		}
		if !fx.lastOnline.IsZero() {
			u.RestoreLastOnline(fx.lastOnline)
		}
	}
	return nil
}

type userFixup struct {
	key          state.UserKey
	lastActivity time.Time
	lastOnline   time.Time
}

func (s *Store) loadServers(ctx context.Context, id string) (map[snowflake.ID]*feed.ServerInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, owner_id, region, icon, afk_channel_id, afk_timeout FROM servers WHERE snapshot_id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("statestore: load servers: %w", err)
	}
	defer rows.Close()

	out := make(map[snowflake.ID]*feed.ServerInfo)
	for rows.Next() {
		var (
			sid, ownerID, afkChannelID int64
			name, region, icon         string
			afkTimeout                 int
		)
		if err := rows.Scan(&sid, &name, &ownerID, &region, &icon, &afkChannelID, &afkTimeout); err != nil {
			return nil, fmt.Errorf("statestore: load servers: %w", err)
		}
		rec := &feed.ServerInfo{
			ID:         snowflake.ID(sid),
			Name:       &name,
			Region:     &region,
			Icon:       &icon,
			AFKTimeout: &afkTimeout,
		}
		if ownerID != 0 {
			owner := snowflake.ID(ownerID)
			rec.OwnerID = &owner
		}
		if afkChannelID != 0 {
			rec.AFKChannelID = feed.Set(snowflake.ID(afkChannelID))
		}
		out[rec.ID] = rec
	}
	return out, rows.Err()
}

func (s *Store) loadRoles(ctx context.Context, id string, servers map[snowflake.ID]*feed.ServerInfo) error {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, server_id, name, permissions, hoist, color, position FROM roles WHERE snapshot_id = ?", id)
	if err != nil {
		return fmt.Errorf("statestore: load roles: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			rid, sid, perms, color int64
			name                   string
			hoist                  bool
			position               int
		)
		if err := rows.Scan(&rid, &sid, &name, &perms, &hoist, &color, &position); err != nil {
			return fmt.Errorf("statestore: load roles: %w", err)
		}
		srv, ok := servers[snowflake.ID(sid)]
		if !ok {
			continue
		}
		p := uint64(perms)
		c := uint32(color)
		srv.Roles = append(srv.Roles, feed.RoleInfo{
			ServerID:    srv.ID,
			ID:          snowflake.ID(rid),
			Name:        &name,
			Permissions: &p,
			Hoist:       &hoist,
			Color:       &c,
			Position:    &position,
		})
	}
	return rows.Err()
}

func (s *Store) loadChannels(ctx context.Context, id string, servers map[snowflake.ID]*feed.ServerInfo) ([]*feed.ChannelInfo, error) {
	overwrites, err := s.loadOverwrites(ctx, id)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, server_id, kind, name, topic, position, recipient_id FROM channels WHERE snapshot_id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("statestore: load channels: %w", err)
	}
	defer rows.Close()

	var private []*feed.ChannelInfo
	for rows.Next() {
		var (
			cid, sid, recipientID int64
			kind, name, topic     string
			position              int
		)
		if err := rows.Scan(&cid, &sid, &kind, &name, &topic, &position, &recipientID); err != nil {
			return nil, fmt.Errorf("statestore: load channels: %w", err)
		}
		rec := feed.ChannelInfo{
			ID:         snowflake.ID(cid),
			ServerID:   snowflake.ID(sid),
			Kind:       &kind,
			Name:       &name,
			Topic:      &topic,
			Position:   &position,
			Overwrites: overwrites[snowflake.ID(cid)],
		}
		if recipientID != 0 {
			recipient := snowflake.ID(recipientID)
			rec.RecipientID = &recipient
		}
		if srv, ok := servers[rec.ServerID]; ok {
			srv.Channels = append(srv.Channels, rec)
		} else {
			c := rec
			private = append(private, &c)
		}
	}
	return private, rows.Err()
}

func (s *Store) loadOverwrites(ctx context.Context, id string) (map[snowflake.ID][]feed.OverwriteInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT channel_id, target_id, type, allow, deny FROM overwrites WHERE snapshot_id = ? ORDER BY channel_id, position", id)
	if err != nil {
		return nil, fmt.Errorf("statestore: load overwrites: %w", err)
	}
	defer rows.Close()

	out := make(map[snowflake.ID][]feed.OverwriteInfo)
	for rows.Next() {
		var cid, targetID, allow, deny int64
		var kind string
		if err := rows.Scan(&cid, &targetID, &kind, &allow, &deny); err != nil {
			return nil, fmt.Errorf("statestore: load overwrites: %w", err)
		}
		out[snowflake.ID(cid)] = append(out[snowflake.ID(cid)], feed.OverwriteInfo{
			TargetID: snowflake.ID(targetID),
			Type:     kind,
			Allow:    uint64(allow),
			Deny:     uint64(deny),
		})
	}
	return out, rows.Err()
}

func (s *Store) loadUsers(ctx context.Context, id string, servers map[snowflake.ID]*feed.ServerInfo) ([]*feed.UserReference, []userFixup, error) {
	roleSets, err := s.loadUserRoles(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT server_id, user_id, name, discriminator, avatar, joined_at, status, game_id,
		   last_activity, last_online, voice_channel_id, session_sealed, token_sealed,
		   self_mute, self_deaf, server_mute, server_deaf, suppress
		 FROM users WHERE snapshot_id = ?`, id)
	if err != nil {
		return nil, nil, fmt.Errorf("statestore: load users: %w", err)
	}
	defer rows.Close()

	var globals []*feed.UserReference
	var fixups []userFixup
	for rows.Next() {
		var (
			sid, uid, voiceChannelID                    int64
			name, avatar, status                        string
			discriminator                               uint16
			joinedAt, lastActivity, lastOnline          sql.NullString
			gameID                                      sql.NullInt64
			sessionSealed, tokenSealed                  []byte
			selfMute, selfDeaf, srvMute, srvDeaf, suppr bool
		)
		if err := rows.Scan(&sid, &uid, &name, &discriminator, &avatar, &joinedAt, &status, &gameID,
			&lastActivity, &lastOnline, &voiceChannelID, &sessionSealed, &tokenSealed,
			&selfMute, &selfDeaf, &srvMute, &srvDeaf, &suppr); err != nil {
			return nil, nil, fmt.Errorf("statestore: load users: %w", err)
		}

		key := state.UserKey{ServerID: snowflake.ID(sid), UserID: snowflake.ID(uid)}
		ref := &feed.UserReference{ID: key.UserID, Username: &name, Discriminator: &discriminator, Avatar: &avatar}

		fx := userFixup{key: key}
		if fx.lastActivity, err = parseDBTimePtr(lastActivity); err != nil {
			return nil, nil, fmt.Errorf("statestore: load user %s: %w", key, err)
		}
		if fx.lastOnline, err = parseDBTimePtr(lastOnline); err != nil {
			return nil, nil, fmt.Errorf("statestore: load user %s: %w", key, err)
		}
		fixups = append(fixups, fx)

		if key.ServerID.IsZero() {
			globals = append(globals, ref)
			continue
		}
		srv, ok := servers[key.ServerID]
		if !ok {
			continue
		}

		member := feed.MemberInfo{ServerID: key.ServerID, User: ref, Roles: roleSets[key]}
		if joined, err := parseDBTimePtr(joinedAt); err != nil {
			return nil, nil, fmt.Errorf("statestore: load user %s: %w", key, err)
		} else if !joined.IsZero() {
			member.JoinedAt = &joined
		}
		srv.Members = append(srv.Members, member)

		presence := feed.PresenceInfo{ServerID: key.ServerID, User: &feed.UserReference{ID: key.UserID}, Status: &status}
		if gameID.Valid {
			presence.GameID = feed.Set(gameID.Int64)
		}
		srv.Presences = append(srv.Presences, presence)

		session, err := s.openCredential(sessionSealed)
		if err != nil {
			return nil, nil, fmt.Errorf("statestore: unseal session for %s: %w", key, err)
		}
		token, err := s.openCredential(tokenSealed)
		if err != nil {
			return nil, nil, fmt.Errorf("statestore: unseal token for %s: %w", key, err)
		}
		if voiceChannelID != 0 || session != "" || token != "" || selfMute || selfDeaf || srvMute || srvDeaf || suppr {
			voice := feed.VoiceMemberInfo{
				ServerID: key.ServerID,
				UserID:   key.UserID,
				SelfMute: &selfMute,
				SelfDeaf: &selfDeaf,
				Mute:     &srvMute,
				Deaf:     &srvDeaf,
				Suppress: &suppr,
			}
			if voiceChannelID != 0 {
				voice.ChannelID = feed.Set(snowflake.ID(voiceChannelID))
			}
			if session != "" {
				voice.SessionID = &session
			}
			if token != "" {
				voice.Token = &token
			}
			srv.VoiceStates = append(srv.VoiceStates, voice)
		}
	}
	return globals, fixups, rows.Err()
}

func (s *Store) loadUserRoles(ctx context.Context, id string) (map[state.UserKey][]snowflake.ID, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT server_id, user_id, role_id FROM user_roles WHERE snapshot_id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("statestore: load user roles: %w", err)
	}
	defer rows.Close()

	out := make(map[state.UserKey][]snowflake.ID)
	for rows.Next() {
		var sid, uid, rid int64
		if err := rows.Scan(&sid, &uid, &rid); err != nil {
			return nil, fmt.Errorf("statestore: load user roles: %w", err)
		}
		key := state.UserKey{ServerID: snowflake.ID(sid), UserID: snowflake.ID(uid)}
		out[key] = append(out[key], snowflake.ID(rid))
	}
	return out, rows.Err()
}
