package kthread

// Communicator passes one int at a time from a speaker to a listener. Each
// Speak pairs with exactly one Listen and neither returns until paired.
type Communicator struct {
	name string
	lock *Lock

	// Turnstiles admit one active speaker and one active listener.
	speakerTurn  *Condition
	listenerTurn *Condition
	// Rendezvous conditions pair the active speaker with the active listener.
	speakerReady  *Condition
	listenerReady *Condition

	listenerWaiting bool
	speakerWaiting  bool
	received        bool
	word            int
}

// NewCommunicator creates an idle rendezvous channel.
func (k *Kernel) NewCommunicator(name string) *Communicator {
	lock := k.NewLock(name + ".lock")
	return &Communicator{
		name:          name,
		lock:          lock,
		speakerTurn:   NewCondition(name+".speakers", lock),
		listenerTurn:  NewCondition(name+".listeners", lock),
		speakerReady:  NewCondition(name+".speaker", lock),
		listenerReady: NewCondition(name+".listener", lock),
	}
}

// Name returns the channel's name.
func (c *Communicator) Name() string { return c.name }

// Speak waits for a listener and hands it word.
func (c *Communicator) Speak(word int) {
	c.lock.Acquire()
	for c.speakerWaiting {
		c.speakerTurn.Sleep()
	}
	c.speakerWaiting = true
	c.word = word

	for !c.listenerWaiting || !c.received {
		c.listenerReady.Wake()
		c.speakerReady.Sleep()
	}

	c.listenerWaiting = false
	c.speakerWaiting = false
	c.received = false
	c.speakerTurn.Wake()
	c.listenerTurn.Wake()
	c.lock.Release()
}

// Listen waits for a speaker and returns the word it passed.
func (c *Communicator) Listen() int {
	c.lock.Acquire()
	for c.listenerWaiting {
		c.listenerTurn.Sleep()
	}
	c.listenerWaiting = true

	for !c.speakerWaiting {
		c.listenerReady.Sleep()
	}
	c.speakerReady.Wake()
	c.received = true
	word := c.word
	c.lock.Release()
	return word
}
