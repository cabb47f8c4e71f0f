// Package provisioning serves the node's single settings form.
//
// The portal runs in two modes:
//
//   - Serve, while the node is unprovisioned. It blocks until a user submits
//     network credentials and returns them to the connectivity machine,
//     which persists them and requests a restart.
//   - Run, alongside normal operation. The same routes stay reachable on the
//     node's address; submissions and clear requests are queued as Events
//     that the scheduler collects with Poll.
//
// Routes:
//
//	GET  /            settings form (SSID picker when a Scanner is set)
//	POST /submit      ssid, password, optional mqtt_user and mqtt_pass
//	POST /clear-wifi  erase network credentials and restart
//	GET  /status      JSON connectivity summary
//
// The portal never writes credentials itself.
package provisioning
