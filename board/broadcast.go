package board

func (r *Room) deliver(m *member, data []byte) {
	if data == nil {
		return
	}
	if err := m.peer.Send(data); err != nil {
		r.log.Warn().Err(err).Str("client", m.clientID).Msg("dropping slow connection")
		m.peer.Close(err.Error())
	}
}

func (r *Room) sendTo(m *member, data []byte) {
	r.deliver(m, data)
}

// broadcast writes data to every member except the one with exceptID.
func (r *Room) broadcast(data []byte, exceptID string) {
	for _, id := range r.order {
		if id == exceptID {
			continue
		}
		r.deliver(r.members[id], data)
	}
}

func (r *Room) makePacketRoomState(self *member) []byte {
	users := make([]userState, 0, len(r.order))
	for _, id := range r.order {
		m := r.members[id]
		users = append(users, userState{
			ClientID: m.clientID,
			Color:    m.color,
			Role:     m.role,
			Kind:     m.kind,
			Ready:    m.ready,
		})
	}

	packet := roomStatePacket{
		Type:         "room_state",
		Visitors:     len(r.members),
		Users:        users,
		SessionState: r.session.State,
		TrialEndsAt:  r.session.trialEndsAtMillis(),
		ReadyCount:   r.readyCount(),
	}
	if r.ownerID != "" {
		owner := r.ownerID
		packet.OwnerID = &owner
	}
	if self != nil {
		packet.ClientID = self.clientID
		packet.Role = self.role
		packet.Color = self.color
	}
	return encodePacket(packet)
}

func (r *Room) broadcastRoomState(exceptID string) {
	r.broadcast(r.makePacketRoomState(nil), exceptID)
}

// welcome sends a member its own view of the room followed by the canvas.
func (r *Room) welcome(m *member) {
	r.sendTo(m, r.makePacketRoomState(m))
	r.sendTo(m, makePacketCanvasSnapshot(r.ledger.Snapshot(), r.ledger.UpdatedAt()))
}
