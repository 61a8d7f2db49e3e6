package ports

// Interactor is how the pipeline and CLI talk to the person running them.
type Interactor interface {
	Output(message string)
	Warning(message string)
	Error(message string, err error)
	// Confirm asks a yes/no question. def is returned when there is no
	// usable answer.
	Confirm(question string, def bool) bool
	// Pause blocks until the user acknowledges message.
	Pause(message string)
}

// Silent is an Interactor that prints nothing and accepts every default.
type Silent struct{}

func (Silent) Output(string) {}
func (Silent) Warning(string) {}
func (Silent) Error(string, error) {}
func (Silent) Confirm(_ string, def bool) bool { return def }
func (Silent) Pause(string) {}
