// Package mqtt provides MQTT client connectivity for the OpenRGB bridge.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) on the availability topic
//   - The bridge topic tree and Home Assistant discovery topics
//
// # Architecture
//
// MQTT is the surface through which the home-automation host sees the
// OpenRGB lights:
//
//	OpenRGB SDK server ↔ openrgb-bridge ↔ MQTT Broker ↔ Home Assistant
//
// # Security Considerations
//
//   - Use TLS outside the local network (cfg.Broker.TLS=true)
//   - Credentials are validated against the broker ACL
//
// # Usage
//
//	topics := mqtt.NewTopics(cfg.HomeAssistant.BaseTopic, "openrgb_localhost_6742")
//	client, err := mqtt.Connect(cfg.MQTT, topics.Availability())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.Subscribe(topics.AllLightCommands(), 1,
//	    func(topic string, payload []byte) error {
//	        key, _ := topics.ParseLightCommand(topic)
//	        log.Printf("command for %s: %s", key, payload)
//	        return nil
//	    })
package mqtt
