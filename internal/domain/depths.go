package domain

// QueueDepths is a derived point-in-time snapshot of queue occupancy.
// Never stored.
type QueueDepths struct {
	High     int // exit lane
	Medium   int // conservative lane
	Low      int // aggressive lane
	Total    int
	Capacity int
}
