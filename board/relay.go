package board

// handleVoice forwards a signaling payload to every other participant.
func (r *Room) handleVoice(m *member, msg voiceMessage) error {
	if m.role != RoleParticipant {
		return ErrNotParticipant
	}

	data := makePacketVoice(msg, m.clientID)
	sent := 0
	for _, id := range r.order {
		p := r.members[id]
		if p == m || p.role != RoleParticipant {
			continue
		}
		r.deliver(p, data)
		sent++
	}
	if sent == 0 {
		return ErrNoPeer
	}
	return nil
}
