// Package indi is a client for the Instrument Neutral Distributed Interface
// protocol used to control astronomical instruments over TCP.
//
// A Connection keeps a mirror of the devices and properties the server has
// defined. The server pushes def*, set* and delProperty elements at any
// time; the connection applies them to its registry and tells subscribed
// Listeners. Clients change properties by sending new* elements with
// Device.UpdateProperty and wait for the server to echo the result.
//
//	conn, err := indi.Dial("localhost", indi.DefaultPort)
//	if err != nil {
//		return err
//	}
//	defer conn.Disconnect()
//	conn.QueryProperties()
package indi
