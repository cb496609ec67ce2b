package transport

type Addr interface {
	Identifier() any // Extra identifier (e.g. port, pipe name)
	String() string
}
