package board

var memberColors = []string{
	"#60a5fa",
	"#f87171",
	"#34d399",
	"#a78bfa",
	"#fbbf24",
	"#fb7185",
	"#22c55e",
	"#38bdf8",
}

// pickColor is stable per clientID so a reconnecting member keeps its color.
func pickColor(clientID string) string {
	var h uint32
	for _, c := range clientID {
		h = h*31 + uint32(c)
	}
	return memberColors[h%uint32(len(memberColors))]
}

func (r *Room) participantCount() int {
	n := 0
	for _, m := range r.members {
		if m.role == RoleParticipant {
			n++
		}
	}
	return n
}

func (r *Room) readyCount() int {
	n := 0
	for _, m := range r.members {
		if m.role == RoleParticipant && m.ready {
			n++
		}
	}
	return n
}

func (r *Room) assignRole() Role {
	if r.participantCount() < r.cfg.MaxParticipants {
		return RoleParticipant
	}
	return RoleViewer
}

// earliest returns the member of the given role that joined first.
func (r *Room) earliest(role Role) *member {
	var best *member
	for _, id := range r.order {
		m := r.members[id]
		if m.role != role {
			continue
		}
		if best == nil || m.joinedAt.Before(best.joinedAt) || (m.joinedAt.Equal(best.joinedAt) && m.seq < best.seq) {
			best = m
		}
	}
	return best
}

// promote moves the earliest viewer into a free participant seat.
func (r *Room) promote() {
	if r.participantCount() >= r.cfg.MaxParticipants {
		return
	}
	v := r.earliest(RoleViewer)
	if v == nil {
		return
	}
	v.role = RoleParticipant
	v.ready = false
	r.log.Info().Str("client", v.clientID).Msg("viewer promoted")
}

func (r *Room) electOwner() {
	if owner, ok := r.members[r.ownerID]; ok && owner.role == RoleParticipant {
		return
	}
	r.ownerID = ""
	if p := r.earliest(RoleParticipant); p != nil {
		r.ownerID = p.clientID
	}
}

func (r *Room) handleSetRole(m *member, msg setRoleMessage) error {
	if m.role != RoleParticipant {
		return ErrNotParticipant
	}
	role, ok := parseRole(msg.Role)
	if !ok {
		return ErrInvalidRole
	}
	target, ok := r.members[msg.TargetClientID]
	if !ok {
		return ErrUnknownTarget
	}
	if target.role == role {
		return nil
	}

	switch role {
	case RoleParticipant:
		if r.participantCount() >= r.cfg.MaxParticipants {
			return ErrParticipantsFull
		}
		target.role = RoleParticipant
		target.ready = false
	case RoleViewer:
		if r.participantCount() <= 1 {
			return ErrLastParticipant
		}
		target.role = RoleViewer
		target.ready = false
	}

	r.log.Info().Str("by", m.clientID).Str("client", target.clientID).Str("role", string(role)).Msg("role changed")
	r.electOwner()
	if !r.recomputeSession() {
		r.broadcastRoomState("")
	}
	return nil
}
