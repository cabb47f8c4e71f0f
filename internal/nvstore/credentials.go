package nvstore

// NetworkCredentials is the station-mode WiFi pair.
type NetworkCredentials struct {
	SSID       string
	Passphrase string
}

// Present reports whether the pair can be used for association. Only the
// first field decides: an open network has an empty passphrase.
func (c NetworkCredentials) Present() bool {
	return c.SSID != ""
}

// BrokerCredentials is the MQTT username/password pair.
type BrokerCredentials struct {
	Username string
	Password string
}

// Present reports whether a username is set.
func (c BrokerCredentials) Present() bool {
	return c.Username != ""
}

// Equal compares by value. Rotation is detected this way rather than with a
// dirty flag.
func (c BrokerCredentials) Equal(o BrokerCredentials) bool {
	return c.Username == o.Username && c.Password == o.Password
}

// Credentials holds both pairs as read at boot.
type Credentials struct {
	Network NetworkCredentials
	Broker  BrokerCredentials
}
