package camera

// MultiPublisher verteilt ein Event an mehrere Senken
type MultiPublisher []EventPublisher

// PublishAttendance implementiert EventPublisher
func (m MultiPublisher) PublishAttendance(event AttendanceEvent) {
	for _, p := range m {
		p.PublishAttendance(event)
	}
}
